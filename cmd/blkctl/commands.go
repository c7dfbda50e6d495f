package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/blkio/internal/iio"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type options struct {
	configPath string
	uri        string
	output     string
	jsonMode   bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "blkctl",
		Short:         "Issue block I/O and control requests against a blkserve target",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "client config.toml")
	flags.StringVar(&opts.uri, "uri", "", "target uri, of://host:port")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text, json, yaml")
	flags.BoolVar(&opts.jsonMode, "json", true, "render control replies as json")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-command deadline")

	root.AddCommand(
		newReadCmd(opts),
		newWriteCmd(opts),
		newIoctlCmd(opts),
		newStatCmd(opts),
		newHandlesCmd(opts),
	)
	return root
}

// session is one opened channel and its devices for the duration of a
// command.
type session struct {
	client *iio.Client
	uri    string
	cfd    int32
	rfds   []int32
	devs   []string
}

func (s *session) rfd() int32 { return s.rfds[0] }

func (s *session) dev() string { return s.devs[0] }

func (o *options) resolve(cmd *cobra.Command) (clientConfig, error) {
	cfg := defaultClientConfig()
	if o.configPath != "" {
		loaded, err := loadClientConfig(o.configPath)
		if err != nil {
			return clientConfig{}, err
		}
		cfg = loaded
	}
	if o.uri != "" {
		cfg.URI = o.uri
	}
	if cmd.Flags().Changed("json") {
		cfg.Client.JSON = o.jsonMode
	}
	return cfg, nil
}

func (o *options) open(cmd *cobra.Command, devs ...string) (*session, error) {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return nil, err
	}
	client, err := iio.Init(cfg.Client, func(handle int32, reason iio.Reason, _ any, reply *iio.Reply) {
		if reason == iio.ReasonHup {
			log.Warn().Str("uri", cfg.URI).Msg("blkctl channel hangup")
			return
		}
		log.Debug().Int32("rfd", handle).Str("reason", reason.String()).Str("status", reply.Status.String()).Msg("blkctl completion")
	})
	if err != nil {
		return nil, err
	}
	cfd, err := client.Open(cfg.URI, 0)
	if err != nil {
		return nil, multierr.Append(err, client.Shutdown())
	}
	s := &session{client: client, uri: cfg.URI, cfd: cfd}
	for _, dev := range devs {
		rfd, err := client.DevOpen(cfd, dev, 0)
		if err != nil {
			return nil, multierr.Append(err, s.close())
		}
		s.rfds = append(s.rfds, rfd)
		s.devs = append(s.devs, dev)
	}
	return s, nil
}

func (s *session) close() error {
	var err error
	for _, rfd := range s.rfds {
		err = multierr.Append(err, s.client.DevClose(s.cfd, rfd))
	}
	return multierr.Combine(
		err,
		s.client.Close(s.cfd),
		s.client.Shutdown(),
	)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newReadCmd(opts *options) *cobra.Command {
	var offset uint64
	var size int
	cmd := &cobra.Command{
		Use:   "read <device>",
		Short: "Read bytes from a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if size <= 0 || size > iio.MaxIOSize {
				return fmt.Errorf("size must be in 1..%d", iio.MaxIOSize)
			}
			s, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()
			ctx, cancel := opts.context(cmd)
			defer cancel()

			buf := make([]byte, size)
			if err := s.client.Read(ctx, s.rfd(), buf, offset, nil, 0); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, readResult{
				Device: s.dev(),
				Offset: offset,
				Size:   size,
				Data:   buf,
			})
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset")
	cmd.Flags().IntVar(&size, "size", 512, "bytes to read")
	return cmd
}

func newWriteCmd(opts *options) *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "write <device> <data>...",
		Short: "Write the concatenated data arguments to a device",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()
			ctx, cancel := opts.context(cmd)
			defer cancel()

			segs := make([][]byte, 0, len(args)-1)
			var total uint64
			for _, arg := range args[1:] {
				segs = append(segs, []byte(arg))
				total += uint64(len(arg))
			}
			if err := s.client.Writev(ctx, s.rfd(), segs, offset, nil, 0); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, writeResult{
				Device: s.dev(),
				Offset: offset,
				Bytes:  total,
			})
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset")
	return cmd
}

func newIoctlCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ioctl <device> <opcode> [json]",
		Short: "Send a control request (stat, resize, flush, echo or a numeric opcode)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := parseOpcode(args[1])
			if err != nil {
				return err
			}
			in := ""
			if len(args) == 3 {
				in = args[2]
			}
			return runControl(cmd, opts, args[0], op, in)
		},
	}
}

func newStatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <device>",
		Short: "Show device size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, opts, args[0], transport.OpStat, "")
		},
	}
}

func newHandlesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "handles [device]...",
		Short: "Open the channel and devices, then list the handles they were given",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.open(cmd, args...)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, s.close()) }()
			return writeOutput(cmd.OutOrStdout(), opts.output, handlesResult{
				URI:      s.uri,
				JSONMode: s.client.JSONMode(),
				Channels: s.client.Channels(),
				Devices:  s.client.Devices(),
			})
		},
	}
}

func runControl(cmd *cobra.Command, opts *options, dev string, op transport.Opcode, in string) (err error) {
	s, err := opts.open(cmd, dev)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()
	ctx, cancel := opts.context(cmd)
	defer cancel()

	out, err := s.client.IoctlJSON(ctx, s.rfd(), op, in, nil, 0)
	if err != nil {
		return err
	}
	switch p := out.(type) {
	case iio.JSONPayload:
		data, err := controlOutput(opts.output, p.Text)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), opts.output, data)
	case iio.SetPayload:
		return writeOutput(cmd.OutOrStdout(), opts.output, setRows(p.Set))
	default:
		return writeOutput(cmd.OutOrStdout(), opts.output, "ok")
	}
}

var opcodeNames = map[string]transport.Opcode{
	"stat":   transport.OpStat,
	"resize": transport.OpResize,
	"flush":  transport.OpFlush,
	"echo":   transport.OpEcho,
}

func parseOpcode(raw string) (transport.Opcode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if op, ok := opcodeNames[raw]; ok {
		return op, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown opcode %q", raw)
	}
	return transport.Opcode(n), nil
}
