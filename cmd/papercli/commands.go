package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"paperpiper/internal/model"
)

// envAddr names the environment variable holding the display address.
const envAddr = "PAPER_IP"

// rootOptions is shared by all subcommands.
type rootOptions struct {
	addr  string
	stdin io.Reader
	// interactive reports whether stdin is a terminal.
	interactive func() bool
}

func (o *rootOptions) resolveAddr() (string, error) {
	if o.addr != "" {
		return o.addr, nil
	}
	if v := os.Getenv(envAddr); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("device IP must be provided via --ip or %s", envAddr)
}

func (o *rootOptions) client() (*client, error) {
	addr, err := o.resolveAddr()
	if err != nil {
		return nil, err
	}
	return newClient(addr), nil
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{
		stdin: os.Stdin,
		interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
	}
	return newRootCmd(opts)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "papercli",
		Short:         "Remote control for a Paper Piper e-paper display",
		Long:          `papercli pushes text, images, line streams and MQTT subscriptions to a Paper Piper display over its HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.addr, "ip", "", "display address (overrides "+envAddr+")")

	rootCmd.AddCommand(newTextCmd(opts))
	rootCmd.AddCommand(newImageCmd(opts))
	rootCmd.AddCommand(newStreamCmd(opts))
	rootCmd.AddCommand(newMQTTCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newScreenshotCmd(opts))
	return rootCmd
}

func newTextCmd(opts *rootOptions) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "text [payload]",
		Short: "Send text to the display",
		Long:  `Send text as an argument or from stdin. Literal \n sequences become line breaks on the display.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var text string
			switch {
			case len(args) == 1:
				text = args[0]
			case !opts.interactive():
				raw, err := io.ReadAll(opts.stdin)
				if err != nil {
					return err
				}
				text = strings.TrimSpace(string(raw))
			default:
				return errors.New("provide text as argument or via stdin")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sending text to %s/api/text...\n", c.base)
			if err := c.sendText(cmd.Context(), text, size); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Success!")
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 3, "text size 1-6")
	return cmd
}

func newImageCmd(opts *rootOptions) *cobra.Command {
	var (
		isMap    bool
		forceRaw bool
	)

	cmd := &cobra.Command{
		Use:   "image [file]",
		Short: "Send an image to the display",
		Long:  `Send an image file or stdin. The image is fitted into 960x960 and re-encoded as JPEG before upload.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var data []byte
			switch {
			case len(args) == 1:
				data, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
			case !opts.interactive():
				fmt.Fprintln(cmd.ErrOrStderr(), "Reading image from stdin...")
				data, err = io.ReadAll(opts.stdin)
				if err != nil {
					return err
				}
			default:
				return errors.New("provide an image file or pipe data")
			}
			if len(data) == 0 {
				return errors.New("empty input")
			}

			out, size, err := prepareImage(data)
			switch {
			case err == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "Formatted %dx%d, %d bytes\n", size.X, size.Y, len(out))
				data = out
			case forceRaw:
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: image processing failed (%v). Sending raw data.\n", err)
			default:
				return fmt.Errorf("image processing failed (%w); use --force-raw to send it unchanged", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sending %d bytes to %s/api/image...\n", len(data), c.base)
			if err := c.sendImage(cmd.Context(), data, isMap); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Success!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&isMap, "map", false, "mark the image as a map")
	cmd.Flags().BoolVar(&forceRaw, "force-raw", false, "send undecodable input unchanged")
	return cmd
}

func newStreamCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream stdin line by line (tail -f)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := opts.resolveAddr()
			if err != nil {
				return err
			}
			host := addr
			if h, _, err := net.SplitHostPort(addr); err == nil {
				host = h
			}
			target := net.JoinHostPort(host, strconv.Itoa(port))

			fmt.Fprintf(cmd.ErrOrStderr(), "Connecting to stream at %s...\n", target)
			d := net.Dialer{Timeout: 5 * time.Second}
			conn, err := d.DialContext(cmd.Context(), "tcp", target)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintln(cmd.ErrOrStderr(), "Connected! Type or pipe text (Ctrl+C to stop).")

			return pipeLines(cmd.Context(), opts.stdin, conn)
		},
	}
	cmd.Flags().IntVar(&port, "port", 2323, "stream port")
	return cmd
}

// pipeLines copies r to w one line at a time so each line reaches the
// display as soon as it is read.
func pipeLines(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if _, werr := io.WriteString(w, line); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func newMQTTCmd(opts *rootOptions) *cobra.Command {
	s := model.MQTTSettings{}

	cmd := &cobra.Command{
		Use:   "mqtt",
		Short: "Subscribe the display to an MQTT topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connecting device to MQTT broker %s:%d...\n", s.Broker, s.Port)
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribing to topic: %s\n", s.Topic)

			r, err := c.configureMQTT(cmd.Context(), s)
			if err != nil {
				return err
			}
			if !r.Connected {
				return fmt.Errorf("connection status unclear: %+v", r)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Success! Device connected to MQTT broker.")
			fmt.Fprintf(cmd.OutOrStdout(), "Broker: %s\nTopic: %s\n", r.Broker, r.Topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&s.Broker, "broker", "", "MQTT broker hostname or IP")
	cmd.Flags().StringVar(&s.Topic, "topic", "", "MQTT topic to subscribe to")
	cmd.Flags().IntVar(&s.Port, "port", model.DefaultMQTTPort, "MQTT broker port")
	cmd.Flags().StringVar(&s.Username, "username", "", "MQTT username")
	cmd.Flags().StringVar(&s.Password, "password", "", "MQTT password")
	_ = cmd.MarkFlagRequired("broker")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the display status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.status(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.Marshal(st, jsontext.WithIndent("  "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newScreenshotCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save the current frame as BMP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := c.screenshot(cmd.Context(), f); err != nil {
				f.Close()
				_ = os.Remove(output)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "screenshot.bmp", "output file")
	return cmd
}
