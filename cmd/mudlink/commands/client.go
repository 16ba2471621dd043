package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mudlink/mudlink/internal/client"
	"github.com/mudlink/mudlink/internal/discovery"
	"github.com/mudlink/mudlink/internal/identity"
)

var (
	clientURL          string
	clientProbeTimeout time.Duration
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Discover a server and join it",
	Long: `Discover session servers on the LAN, join one, and follow its event
stream until interrupted. A previously issued identity for the chosen
server is resumed automatically.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "", "Direct server URL (skips discovery)")
	clientCmd.Flags().DurationVar(&clientProbeTimeout, "probe-timeout", 3*time.Second, "How long to wait for discovery answers")
}

func runClient(cmd *cobra.Command, args []string) error {
	url := clientURL
	if url == "" {
		var err error
		url, err = discoverServerURL()
		if err != nil {
			return err
		}
	}

	dir, err := identity.DefaultDir()
	if err != nil {
		// No home dir: connect as a new client every time.
		log.Printf("[WARN] no identity dir, sessions will not resume: %v", err)
	}
	store := identity.NewStore(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := client.Connect(ctx, url, store)
	if err != nil {
		return err
	}
	fmt.Printf("connected to %s as %s\n", sess.ServerID, sess.ClientID)

	stream, err := sess.Client.Subscribe(ctx, sess.ClientID)
	if err != nil {
		return err
	}
	defer stream.Close()

	go func() {
		if err := sess.Client.PingLoop(ctx, sess.ClientID, client.DefaultPingInterval); err != nil && ctx.Err() == nil {
			log.Printf("[WARN] ping loop stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return fmt.Errorf("event stream closed by server")
			}
			if ev.SessionID != "" {
				fmt.Printf("event: %s %s\n", ev.Type, ev.SessionID)
			} else {
				fmt.Printf("event: %s\n", ev.Type)
			}
		case <-sig:
			endCtx, endCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer endCancel()
			if err := sess.Client.EndSession(endCtx, sess.ClientID); err != nil {
				log.Printf("[WARN] failed to end session: %v", err)
			}
			return nil
		}
	}
}

// discoverServerURL probes the LAN and picks a server, prompting when
// several answer and stdin is a terminal.
func discoverServerURL() (string, error) {
	servers, err := discovery.Probe(clientProbeTimeout)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("no servers found on the network (try --url)")
	}

	chosen := servers[0]
	if len(servers) > 1 && term.IsTerminal(int(os.Stdin.Fd())) {
		for i, s := range servers {
			name := s.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("  [%d] %s %s\n", i+1, name, s.URL())
		}
		fmt.Print("select server: ")
		var pick int
		if _, err := fmt.Fscanln(os.Stdin, &pick); err == nil && pick >= 1 && pick <= len(servers) {
			chosen = servers[pick-1]
		}
	}

	log.Printf("[INFO] using server %s at %s", chosen.Name, chosen.URL())
	return chosen.URL(), nil
}
