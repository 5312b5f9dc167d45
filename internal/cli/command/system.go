package command

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/storage/keyring"
	"github.com/yndnr/meshstore/internal/storage/segment"
)

// VersionInfo is the output of version.
type VersionInfo struct {
	buildinfo.Info `yaml:",inline"`
	SegmentFormat  int `json:"segment_format" yaml:"segment_format"`
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build and on-disk format versions",
		Action: func(c *cli.Context) error {
			flags, err := ParseGlobalFlags(c)
			if err != nil {
				return err
			}
			info := buildinfo.Get()
			if flags.Output == output.FormatTable {
				fmt.Fprintln(c.App.Writer, info.String())
				fmt.Fprintf(c.App.Writer, "segment format %d\n", segment.FormatVersion)
				return nil
			}
			v := VersionInfo{Info: info, SegmentFormat: segment.FormatVersion}
			return output.NewFormatter(flags.Output, false).Format(c.App.Writer, v)
		},
	}
}

// KeygenCommand prints or writes a new random encryption key.
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a random 32-byte encryption key",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "base64",
				Usage: "Encode as base64 instead of hex",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write the key to this file with mode 0600 instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			key, err := keyring.GenerateKey(32)
			if err != nil {
				return err
			}
			defer keyring.ZeroKey(key)

			encoded := hex.EncodeToString(key)
			if c.Bool("base64") {
				encoded = base64.StdEncoding.EncodeToString(key)
			}
			if out := c.String("out"); out != "" {
				return os.WriteFile(out, []byte(encoded+"\n"), 0o600)
			}
			_, err = fmt.Fprintln(c.App.Writer, encoded)
			return err
		},
	}
}
