package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"screenrelay/internal/client/config"
	"screenrelay/internal/client/peer"
)

var rootCmd = &cobra.Command{
	Use:   "screenrelay",
	Short: "Stream a screen to viewers through a relay server",
}

// ServerAddr should be injected via ldflags. Default for dev.
var ServerAddr = "localhost:8443"

func Init(serverAddr string) {
	if serverAddr != "" {
		ServerAddr = serverAddr
	}

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(viewCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var (
	flagServer   string
	flagTLS      bool
	flagInsecure bool
)

func init() {
	loginCmd.Flags().StringVar(&flagServer, "server", "", "relay address (host:port)")
	loginCmd.Flags().BoolVar(&flagTLS, "tls", false, "connect over TLS")
	loginCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate verification (dev only)")
	viewCmd.Flags().String("clip", "", "send a clipboard payload to the host after connecting")
	hostCmd.Flags().String("name", "", "display name for the session")
}

var loginCmd = &cobra.Command{
	Use:   "login [username] [password]",
	Short: "Save relay credentials",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg.Username = args[0]
		cfg.Password = args[1]
		cfg.UseTLS = flagTLS
		cfg.InsecureSkipVerify = flagInsecure
		if flagServer != "" {
			cfg.ServerAddr = flagServer
		}
		if cfg.ServerAddr == "" {
			cfg.ServerAddr = ServerAddr
		}
		if err := config.SaveConfig(cfg); err != nil {
			log.Fatalf("Error saving config: %v", err)
		}
		path, _ := config.GetConfigPath()
		fmt.Printf("Credentials saved to %s\n", path)
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Start a session and stream frames from stdin to all viewers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		peerCfg := mustPeerConfig()
		peerCfg.SessionName, _ = cmd.Flags().GetString("name")

		if err := config.AcquireLock(); err != nil {
			log.Fatalf("%v", err)
		}
		defer config.ReleaseLock()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err := peer.HostWithReconnect(ctx, peerCfg, nil, func(sess *peer.HostSession) error {
			fmt.Printf("Session created: %s\n", sess.SessionID)
			fmt.Println("Share this id with viewers. Streaming frames from stdin...")

			cancel := context.AfterFunc(ctx, func() { sess.Close() })
			defer cancel()

			go printControl(sess)
			return streamFrames(sess)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Host error: %v", err)
		}
	},
}

var viewCmd = &cobra.Command{
	Use:   "view [session-id]",
	Short: "Attach to a session and write received frames to stdout",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		peerCfg := mustPeerConfig()

		sess, err := peer.View(peerCfg, args[0])
		if err != nil {
			log.Fatalf("Join failed: %v", err)
		}
		defer sess.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cancel := context.AfterFunc(ctx, func() { sess.Close() })
		defer cancel()

		if clip, _ := cmd.Flags().GetString("clip"); clip != "" {
			if err := sess.SendControl([]byte(clip)); err != nil {
				log.Fatalf("Send clipboard: %v", err)
			}
		}

		for {
			payload, err := sess.NextFrame()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					log.Println("Session ended")
					return
				}
				log.Fatalf("Stream error: %v", err)
			}
			os.Stdout.Write(payload)
		}
	},
}

// mustPeerConfig loads the saved credentials and fails fast if login has
// not been run yet.
func mustPeerConfig() peer.Config {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if cfg.Username == "" {
		log.Fatal("No credentials found. Run 'screenrelay login <username> <password>' first.")
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ServerAddr
	}
	return peer.Config{
		ServerAddr:         addr,
		Username:           cfg.Username,
		Password:           cfg.Password,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

// streamFrames turns each stdin read into one relayed frame. The capture
// pipeline upstream decides chunking; the relay treats payloads as opaque.
func streamFrames(sess *peer.HostSession) error {
	buf := make([]byte, 1<<20)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if serr := sess.SendFrame(buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// printControl surfaces viewer control messages (clipboard text) on stderr
// until the session closes.
func printControl(sess *peer.HostSession) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ReadControl(buf)
		if n > 0 {
			log.Printf("Control from viewer: %q", buf[:n])
		}
		if err != nil {
			return
		}
	}
}
