package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/storage"
)

// PutResult is the output of put.
type PutResult struct {
	ID   string `json:"id" yaml:"id"`
	Seq  uint64 `json:"seq" yaml:"seq"`
	Size int    `json:"size" yaml:"size" table:"bytes"`
}

// RecordView is the output of get in json and yaml formats.
type RecordView struct {
	ID      string `json:"id" yaml:"id"`
	Size    int    `json:"size" yaml:"size" table:"bytes"`
	Payload []byte `json:"payload" yaml:"payload" table:"-"`
}

// DeleteResult is the output of delete.
type DeleteResult struct {
	ID    string `json:"id" yaml:"id"`
	Found bool   `json:"found" yaml:"found"`
}

// ContainsResult is the output of contains.
type ContainsResult struct {
	ID      string `json:"id" yaml:"id"`
	Present bool   `json:"present" yaml:"present"`
}

// ScanRow is one line of scan output.
type ScanRow struct {
	ID   string `json:"id" yaml:"id"`
	Size int    `json:"size" yaml:"size" table:"bytes"`
}

// PutCommand stores a payload.
func PutCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a payload read from FILE or stdin",
		ArgsUsage: "[FILE|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Hex identifier (default: BLAKE2b-256 of the content)",
			},
		},
		Action: runPut,
	}
}

func runPut(c *cli.Context) error {
	if c.NArg() > 1 {
		return cli.Exit("put takes at most one FILE argument", ExitUsage)
	}
	payload, err := readInput(c, c.Args().First())
	if err != nil {
		return err
	}

	var id []byte
	if s := c.String("id"); s != "" {
		if id, err = parseID(s); err != nil {
			return err
		}
	} else {
		sum := blake2b.Sum256(payload)
		id = sum[:]
	}

	return withEngine(c, func(s *session, e *storage.Engine) error {
		seq, err := e.Put(c.Context, id, payload)
		if err != nil {
			return err
		}
		return s.print(PutResult{ID: hex.EncodeToString(id), Seq: seq, Size: len(payload)})
	})
}

func readInput(c *cli.Context, name string) ([]byte, error) {
	if name == "" || name == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		return io.ReadAll(r)
	}
	return os.ReadFile(name)
}

// GetCommand reads a payload.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Write the payload stored under ID",
		ArgsUsage: "ID",
		Description: "The raw payload is written to stdout or --out. With -o json or -o yaml\n" +
			"the record is printed with a base64 payload instead.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write the payload to this file",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			return withEngine(c, func(s *session, e *storage.Engine) error {
				payload, err := e.Get(c.Context, id)
				if err != nil {
					return err
				}
				if out := c.String("out"); out != "" {
					return os.WriteFile(out, payload, 0o644)
				}
				if s.flags.Output != output.FormatTable {
					return s.print(RecordView{ID: hex.EncodeToString(id), Size: len(payload), Payload: payload})
				}
				_, err = s.stdout.Write(payload)
				return err
			})
		},
	}
}

// DeleteCommand removes a record.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete the record stored under ID",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			return withEngine(c, func(s *session, e *storage.Engine) error {
				found, err := e.Delete(c.Context, id)
				if err != nil {
					return err
				}
				return s.print(DeleteResult{ID: hex.EncodeToString(id), Found: found})
			})
		},
	}
}

// ContainsCommand checks for a record. It exits with ExitNotFound when
// the record is absent.
func ContainsCommand() *cli.Command {
	return &cli.Command{
		Name:      "contains",
		Usage:     "Report whether a record is stored under ID",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			return withEngine(c, func(s *session, e *storage.Engine) error {
				ok, err := e.Contains(c.Context, id)
				if err != nil {
					return err
				}
				if err := s.print(ContainsResult{ID: hex.EncodeToString(id), Present: ok}); err != nil {
					return err
				}
				if !ok {
					return cli.Exit("", ExitNotFound)
				}
				return nil
			})
		},
	}
}

// ScanCommand lists live records in identifier order.
func ScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List stored records in identifier order",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Stop after N records (0 = all)",
			},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 0 {
				return cli.Exit("--limit must not be negative", ExitUsage)
			}
			return withEngine(c, func(s *session, e *storage.Engine) error {
				rows, err := scanRows(c.Context, e, limit)
				if err != nil {
					return err
				}
				return s.print(rows)
			})
		},
	}
}

func scanRows(ctx context.Context, e *storage.Engine, limit int) ([]ScanRow, error) {
	it := e.Scan(ctx)
	defer it.Close()

	rows := make([]ScanRow, 0)
	for it.Next() {
		rows = append(rows, ScanRow{ID: hex.EncodeToString(it.ID()), Size: len(it.Payload())})
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, it.Err()
}

func idArg(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, cli.Exit(fmt.Sprintf("%s takes exactly one ID argument", c.Command.Name), ExitUsage)
	}
	return parseID(c.Args().First())
}

func parseID(s string) ([]byte, error) {
	id, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(id) == 0 {
		return nil, cli.Exit(fmt.Sprintf("invalid identifier %q: want non-empty hex", s), ExitUsage)
	}
	return id, nil
}
