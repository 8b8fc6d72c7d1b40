package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gops/agent"
	"github.com/jpillora/backoff"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/gomumble/gomumble/config"
	"github.com/gomumble/gomumble/pkg/mumble"
	"github.com/gomumble/gomumble/pkg/wirecodec"
	"github.com/gomumble/gomumble/pkg/wstransport"
)

var (
	version = "0.1.0-dev"
	logger  *logrus.Entry
)

func main() {
	flagConfig := pflag.String("conf", "", "config file (yaml/toml/json)")
	flagDebug := pflag.Bool("debug", false, "enable debug logging")
	flagTrace := pflag.Bool("trace", false, "enable trace logging (dumps new users and channels)")
	flagGops := pflag.Bool("gops", false, "enable gops agent")
	flagVersion := pflag.Bool("version", false, "show version")
	flagServer := pflag.String("server", "", "mumble server (host:port)")
	flagWebSocket := pflag.String("wsurl", "", "connect over websocket instead of TLS (wss://...)")
	flagUsername := pflag.String("username", "", "username")
	flagPassword := pflag.String("password", "", "server password")
	flagInsecure := pflag.Bool("insecure", false, "skip TLS certificate verification")
	flagCert := pflag.String("cert", "", "client certificate file")
	flagKey := pflag.String("key", "", "client certificate key file")
	flagStore := pflag.String("store", "gomumble.db", "server store database")
	pflag.Parse()

	if *flagVersion {
		fmt.Printf("version: %s\n", version)
		return
	}

	rootLogger := logrus.New()
	rootLogger.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 13,
		DisableColors: true,
	})
	if *flagDebug {
		rootLogger.SetLevel(logrus.DebugLevel)
	}
	if *flagTrace {
		rootLogger.SetLevel(logrus.TraceLevel)
	}
	logger = rootLogger.WithFields(logrus.Fields{"prefix": "main"})
	config.Logger = rootLogger.WithFields(logrus.Fields{"prefix": "config"})
	mumble.SetLogger(rootLogger.WithFields(logrus.Fields{"prefix": "mumble"}))

	if *flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Errorf("unable to start gops agent: %s", err)
		}
		defer agent.Close()
	}

	settings := &config.Settings{}
	if *flagConfig != "" {
		v, err := config.LoadConfig(*flagConfig)
		if err != nil {
			logger.Fatal(err)
		}
		settings, err = config.Decode(v)
		if err != nil {
			logger.Fatal(err)
		}
	}
	if *flagServer != "" {
		settings.Server = *flagServer
	}
	if *flagWebSocket != "" {
		settings.WebSocketURL = *flagWebSocket
	}
	if *flagUsername != "" {
		settings.Username = *flagUsername
	}
	if *flagPassword != "" {
		settings.Password = *flagPassword
	}
	if *flagInsecure {
		settings.SkipTLSVerify = true
	}
	if settings.StorePath == "" {
		settings.StorePath = *flagStore
	}
	if settings.Server == "" && settings.WebSocketURL == "" {
		logger.Fatal("no server configured, use -server or -wsurl")
	}

	store, err := openServerStore(settings.StorePath)
	if err != nil {
		logger.Fatalf("unable to open server store %s: %s", settings.StorePath, err)
	}
	defer store.Close()

	tlsConfig, err := tlsClientConfig(settings.SkipTLSVerify, *flagCert, *flagKey)
	if err != nil {
		logger.Fatalf("unable to load client certificate: %s", err)
	}

	storeKey := settings.Server
	if storeKey == "" {
		storeKey = settings.WebSocketURL
	}
	tokens := settings.Tokens
	if len(tokens) == 0 {
		tokens = store.Tokens(storeKey)
	}
	if last := store.LastVersion(storeKey); last != "" {
		logger.Debugf("last seen server version for %s: %s", storeKey, last)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    5 * time.Minute,
		Jitter: true,
	}

	for {
		err := runClient(ctx, settings, tokens, tlsConfig, store, storeKey, *flagTrace)
		if err == nil || ctx.Err() != nil {
			return
		}
		d := b.Duration()
		logger.Errorf("connection lost: %s, reconnecting in %s", err, d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}
}

// runClient dials, connects one Mumble session and pumps its events
// until the connection dies or the context is cancelled.
func runClient(ctx context.Context, settings *config.Settings, tokens []string, tlsConfig *tls.Config, store *serverStore, storeKey string, trace bool) error {
	cfg := &mumble.Config{
		Username:             settings.Username,
		Password:             settings.Password,
		Tokens:               tokens,
		ClientSoftware:       "gomumble " + version,
		UserVoiceTimeout:     time.Duration(settings.UserVoiceTimeoutMs) * time.Millisecond,
		DataPingInterval:     time.Duration(settings.DataPingIntervalMs) * time.Millisecond,
		MaxInFlightDataPings: settings.MaxInFlightDataPings,
		PreferredBitrate:     settings.PreferredBitrate,
	}
	client, err := mumble.New(cfg)
	if err != nil {
		return err
	}

	conn, err := dial(settings, tlsConfig)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	client.Attach(&mumble.Listener{
		OnConnect: func(e *mumble.ConnectEvent) {
			logger.Infof("connected to %s (server %s)", storeKey, client.ServerVersion())
			if e.WelcomeText != "" {
				fmt.Println(renderMessage(e.WelcomeText, true))
			}
			if err := store.SaveVersion(storeKey, client.ServerVersion().String()); err != nil {
				logger.Debugf("unable to save server version: %s", err)
			}
			if err := store.SaveTokens(storeKey, tokens); err != nil {
				logger.Debugf("unable to save tokens: %s", err)
			}
		},
		OnDisconnect: func(e *mumble.DisconnectEvent) {
			done <- e.Err
		},
		OnError: func(err error) {
			logger.Errorf("client error: %s", err)
		},
		OnUserCreate: func(u *mumble.User) {
			if trace {
				logger.Trace(spew.Sdump(u))
			}
		},
		OnUserUpdate: func(e *mumble.UserUpdateEvent) {
			if e.Changes.Has(mumble.UserChangeChannel) && e.User.Channel() != nil {
				logger.Infof("%s moved to %s", e.User.Name(), e.User.Channel().Name())
			}
		},
		OnUserRemove: func(e *mumble.UserRemoveEvent) {
			logger.Infof("%s left (%s)", e.User.Name(), e.Reason)
		},
		OnChannelCreate: func(ch *mumble.Channel) {
			if trace {
				logger.Trace(spew.Sdump(ch))
			}
		},
		OnTextMessage: func(e *mumble.TextMessageEvent) {
			sender := "server"
			if e.Sender != nil {
				sender = e.Sender.Name()
			}
			fmt.Printf("<%s> %s\n", sender, renderMessage(e.Message, true))
		},
		OnPermissionDenied: func(e *mumble.PermissionDeniedEvent) {
			logger.Warnf("permission denied: %s %s", e.Kind, e.Detail)
		},
		OnDataPing: func(rtt time.Duration) {
			logger.Debugf("ping rtt %s", rtt)
		},
		OnVoiceStream: func(s *mumble.VoiceStream) {
			go func() {
				n := 0
				for range s.Frames() {
					n++
				}
				logger.Debugf("%s talked for %dms", s.User().Name(), n*10)
			}()
		},
	})

	if err := client.Connect(ctx, wirecodec.New(conn)); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		client.Disconnect()
		<-done
		return nil
	}
}

func dial(settings *config.Settings, tlsConfig *tls.Config) (io.ReadWriteCloser, error) {
	if settings.WebSocketURL != "" {
		return wstransport.Dial(settings.WebSocketURL, tlsConfig, nil)
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	return tls.DialWithDialer(dialer, "tcp", settings.Server, tlsConfig)
}
