package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/christianselig/apns/internal/apns"
	"github.com/christianselig/apns/internal/cmdutil"
	"github.com/christianselig/apns/internal/credentials"
	"github.com/christianselig/apns/internal/devicestore"
)

const unregisteredTTL = 30 * 24 * time.Hour

type pushOptions struct {
	certPath   string
	keyPath    string
	p12Path    string
	password   string
	production bool
	port       int
	force      bool

	id               string
	topic            string
	alert            string
	title            string
	body             string
	badge            int
	sound            string
	category         string
	contentAvailable bool
	priority         string
	expiration       int64
	custom           []string
}

func envOr(val, key string) string {
	if val != "" {
		return val
	}
	return os.Getenv(key)
}

func (o *pushOptions) credentialOptions() ([]credentials.Option, bool) {
	certPath := envOr(o.certPath, "APNS_CERT_PATH")
	keyPath := envOr(o.keyPath, "APNS_KEY_PATH")
	p12Path := envOr(o.p12Path, "APNS_P12_PATH")

	opts := []credentials.Option{credentials.WithPassword(envOr(o.password, "APNS_CERT_PASSWORD"))}
	switch {
	case p12Path != "":
		opts = append(opts, credentials.WithPKCS12File(p12Path))
	case certPath != "":
		opts = append(opts, credentials.WithCertificateFiles(certPath, keyPath))
	default:
		return nil, false
	}

	return opts, true
}

// parseCustom reads key=value pairs. Values that are valid JSON are decoded;
// anything else is sent as a string.
func parseCustom(pairs []string) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("custom data %q is not in key=value form", pair)
		}

		if fastjson.Validate(val) != nil {
			data[key] = val
			continue
		}

		var v interface{}
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			return nil, fmt.Errorf("custom data %q: %w", key, err)
		}
		data[key] = v
	}

	return data, nil
}

func (o *pushOptions) notificationOptions(flags interface{ Changed(string) bool }) ([]apns.NotificationOption, error) {
	opts := []apns.NotificationOption{
		apns.WithTopic(o.topic),
		apns.WithSound(o.sound),
		apns.WithCategory(o.category),
		apns.WithContentAvailable(o.contentAvailable),
		apns.WithPriority(apns.Priority(o.priority)),
		apns.WithExpirationUnix(o.expiration),
	}

	if o.id != "" {
		opts = append(opts, apns.WithIDString(o.id))
	}

	if o.title != "" || o.body != "" {
		opts = append(opts, apns.WithAlertDict(apns.Alert{Title: o.title, Body: o.body}))
	} else {
		opts = append(opts, apns.WithAlert(o.alert))
	}

	if flags.Changed("badge") {
		opts = append(opts, apns.WithBadge(o.badge))
	}

	custom, err := parseCustom(o.custom)
	if err != nil {
		return nil, err
	}
	opts = append(opts, apns.WithCustomData(custom))

	return opts, nil
}

func PushCmd(ctx context.Context, debug *bool) *cobra.Command {
	o := &pushOptions{}

	cmd := &cobra.Command{
		Use:   "push <device-token>",
		Args:  cobra.ExactArgs(1),
		Short: "Sends a single notification to a device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceToken := args[0]
			logger := cmdutil.NewLogger(*debug)
			defer func() { _ = logger.Sync() }()

			nopts, err := o.notificationOptions(cmd.Flags())
			if err != nil {
				return err
			}
			n, err := apns.NewNotification(nopts...)
			if err != nil {
				return err
			}

			var tlsConfig *tls.Config
			if copts, ok := o.credentialOptions(); ok {
				if tlsConfig, err = credentials.NewTLSConfig(copts...); err != nil {
					return err
				}
			}

			providerToken, err := cmdutil.NewProviderToken()
			if err != nil {
				return err
			}
			if tlsConfig == nil && providerToken == nil {
				return errors.New("need a certificate (--cert or --p12) or APPLE_KEY_PATH")
			}

			shutdown, err := cmdutil.SetupTracing("apns")
			if err != nil {
				return err
			}
			defer shutdown()

			statsd, err := cmdutil.NewStatsdClient()
			if err != nil {
				return err
			}
			defer statsd.Close()

			var store devicestore.Store
			if os.Getenv("REDIS_URL") != "" {
				redis, err := cmdutil.NewRedisClient(ctx)
				if err != nil {
					return err
				}
				defer redis.Close()

				store = devicestore.NewRedisStore(redis, unregisteredTTL)
			}

			copts := []apns.ClientOption{
				apns.WithSandbox(!o.production),
				apns.WithPort(o.port),
				apns.WithLogger(logger),
				apns.WithStatsd(statsd),
			}
			if providerToken != nil {
				copts = append(copts, apns.WithTokenAuth(providerToken))
			}

			client, err := apns.NewClient(tlsConfig, copts...)
			if err != nil {
				return err
			}

			return push(ctx, cmd.OutOrStdout(), logger, client, store, n, deviceToken, o.force)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.certPath, "cert", "", "PEM certificate path (env APNS_CERT_PATH)")
	flags.StringVar(&o.keyPath, "key", "", "PEM private key path, if not bundled with the certificate (env APNS_KEY_PATH)")
	flags.StringVar(&o.p12Path, "p12", "", "PKCS#12 certificate path (env APNS_P12_PATH)")
	flags.StringVar(&o.password, "password", "", "certificate password (env APNS_CERT_PASSWORD)")
	flags.BoolVar(&o.production, "production", false, "use the production gateway")
	flags.IntVar(&o.port, "port", apns.DefaultPort, "gateway port, 443 or 2197")
	flags.BoolVar(&o.force, "force", false, "push even if the device token is known to be unregistered")

	flags.StringVar(&o.id, "id", "", "notification UUID")
	flags.StringVar(&o.topic, "topic", "", "apns-topic, usually the app bundle ID")
	flags.StringVar(&o.alert, "alert", "", "alert text")
	flags.StringVar(&o.title, "title", "", "alert title")
	flags.StringVar(&o.body, "body", "", "alert body")
	flags.IntVar(&o.badge, "badge", 0, "badge count")
	flags.StringVar(&o.sound, "sound", "", "sound name")
	flags.StringVar(&o.category, "category", "", "notification category")
	flags.BoolVar(&o.contentAvailable, "content-available", false, "wake the app in the background")
	flags.StringVar(&o.priority, "priority", string(apns.PriorityHigh), "10 for immediate delivery, 5 to save power")
	flags.Int64Var(&o.expiration, "expiration", apns.ExpireImmediately, "Unix time after which the notification is dropped")
	flags.StringArrayVar(&o.custom, "custom", nil, "custom payload key=value, value may be JSON (repeatable)")

	return cmd
}

func push(ctx context.Context, out io.Writer, logger *zap.Logger, client *apns.Client, store devicestore.Store, n *apns.Notification, deviceToken string, force bool) error {
	if store != nil && !force {
		since, err := store.UnregisteredSince(ctx, deviceToken)
		switch {
		case err == nil:
			return fmt.Errorf("device token has been unregistered since %s, use --force to push anyway", humanize.Time(since))
		case !errors.Is(err, devicestore.ErrNotFound):
			logger.Error("failed to check device store", zap.Error(err), zap.String("device#token", deviceToken))
		}
	}

	id, err := client.Push(ctx, n, deviceToken)
	if err != nil {
		var aerr *apns.Error
		if errors.As(err, &aerr) && errors.Is(err, apns.ErrUnregistered) {
			if !aerr.UnavailableSince.IsZero() {
				fmt.Fprintf(out, "device token unregistered since %s\n", humanize.Time(aerr.UnavailableSince))
			}
			if store != nil {
				if _, serr := devicestore.Record(ctx, store, err); serr != nil {
					logger.Error("failed to record unregistered device", zap.Error(serr), zap.String("device#token", deviceToken))
				}
			}
		}
		return err
	}

	if store != nil && force {
		if err := store.Forget(ctx, deviceToken); err != nil {
			logger.Error("failed to clear unregistered device", zap.Error(err), zap.String("device#token", deviceToken))
		}
	}

	fmt.Fprintln(out, id.String())
	return nil
}
