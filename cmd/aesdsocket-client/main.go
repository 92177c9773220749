// Command aesdsocket-client is a manual exerciser for the aesdsocket
// protocol: it connects, writes either a line or (with --seek) a seek
// directive, and reads back whatever the server replays. It is not part of
// the server; it exists for poking at a running instance the way the
// teacher's cmd/test-client pokes at a running RESP server.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		addr    string
		line    string
		seekCmd uint32
		seekOff uint32
		useSeek bool
	)

	cmd := &cobra.Command{
		Use:   "aesdsocket-client",
		Short: "Send one line (or a seek directive) to an aesdsocket server and print the replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", addr, err)
			}
			defer conn.Close()

			if useSeek {
				payload := fmt.Sprintf("AESDCHAR_IOCSEEKTO:%d,%d\n", seekCmd, seekOff)
				fmt.Printf(">>> %s", payload)
				if _, err := conn.Write([]byte(payload)); err != nil {
					return fmt.Errorf("write seek directive: %w", err)
				}
			} else {
				fmt.Printf(">>> %s\n", line)
				if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
					return fmt.Errorf("write line: %w", err)
				}
			}

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			reader := bufio.NewReader(conn)
			out, err := io.ReadAll(reader)
			if err != nil && err != io.EOF {
				return fmt.Errorf("read replay: %w", err)
			}
			fmt.Printf("<<< %s", out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:9000", "aesdsocket server address")
	flags.StringVar(&line, "line", "hello", "line to send (ignored with --seek)")
	flags.BoolVar(&useSeek, "seek", false, "send a seek directive instead of a line")
	flags.Uint32Var(&seekCmd, "seek-cmd", 0, "write command index for --seek")
	flags.Uint32Var(&seekOff, "seek-offset", 0, "intra-command offset for --seek")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
