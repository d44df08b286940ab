package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bmscode-go/bus"
	"bmscode-go/canframe"
	"bmscode-go/services/bms"
	"bmscode-go/services/canlink"
	"bmscode-go/x/conv"
)

func newEncodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <message> [signal=value ...]",
		Short: "Encode physical signal values into a frame",
		Long: `Encode quantises each value to its signal's resolution, clamps it into the
representable range and packs the frame. Signals not given are zero.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := lookupMessage(g, args[0])
			if err != nil {
				return err
			}
			phys, err := parseAssignments(msg.Schema, args[1:])
			if err != nil {
				return err
			}
			raw, err := msg.Schema.Quantize(phys)
			if err != nil {
				return err
			}
			f, err := msg.Schema.Encode(raw)
			if err != nil {
				return err
			}
			writeFrame(cmd.OutOrStdout(), msg, f)
			return nil
		},
	}
}

func newDecodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <message> <hex>",
		Short: "Decode a frame payload into physical signal values",
		Long: `Decode takes up to 16 hex digits, optionally separated by spaces, with
byte 0 first. Missing trailing bytes are zero.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := lookupMessage(g, args[0])
			if err != nil {
				return err
			}
			f, err := parsePayload(strings.Join(args[1:], ""))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, v := range msg.Schema.Physical(f) {
				fmt.Fprintf(w, "%s = %s\n", msg.Schema.Signal(i).Name, strconv.FormatFloat(v, 'f', -1, 64))
			}
			return nil
		},
	}
}

func lookupMessage(g *globalFlags, name string) (canframe.Message, error) {
	cfg, err := g.load()
	if err != nil {
		return canframe.Message{}, err
	}
	cat, err := bms.NewCatalog(cfg.CAN)
	if err != nil {
		return canframe.Message{}, err
	}
	msg, ok := cat.ByName(name)
	if !ok {
		return canframe.Message{}, fmt.Errorf("unknown message %q (have %s)", name, strings.Join(cat.Names(), ", "))
	}
	return msg, nil
}

func parseAssignments(s *canframe.Schema, args []string) ([]float64, error) {
	phys := make([]float64, s.Len())
	for _, a := range args {
		name, val, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want signal=value", a)
		}
		i := s.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		phys[i] = v
	}
	return phys, nil
}

func parsePayload(s string) (canframe.Frame, error) {
	var f canframe.Frame
	s = strings.ReplaceAll(s, " ", "")
	if len(s)%2 != 0 || len(s) > 2*len(f) {
		return f, fmt.Errorf("payload %q: want an even number of hex digits, at most 16", s)
	}
	for i := 0; i < len(s)/2; i++ {
		v, ok := conv.ParseHex([]byte(s[2*i : 2*i+2]))
		if !ok {
			return f, fmt.Errorf("payload %q: bad hex digit", s)
		}
		f[i] = byte(v)
	}
	return f, nil
}

// writeFrame prints the spaced payload bytes and the SLCAN line.
func writeFrame(w io.Writer, msg canframe.Message, f canframe.Frame) {
	var b []byte
	b = append(b, "id=0x"...)
	b = conv.AppendHex(b, uint64(msg.ID), 3)
	b = append(b, " data="...)
	for i, x := range f {
		if i > 0 {
			b = append(b, ' ')
		}
		b = conv.AppendHex(b, uint64(x), 2)
	}
	b = append(b, '\n')
	line := canlink.AppendFrame(nil, bus.Frame{ID: msg.ID, Data: f})
	b = append(b, line[:len(line)-1]...)
	b = append(b, '\n')
	_, _ = w.Write(b)
}
