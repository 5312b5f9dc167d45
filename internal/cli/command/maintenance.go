package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/cli/output"
	"github.com/yndnr/meshstore/internal/storage"
)

// StatsSummary is the table view of storage.Stats.
type StatsSummary struct {
	Dir             string             `json:"dir"`
	Durability      storage.Durability `json:"durability"`
	Records         int                `json:"records"`
	NextSeq         uint64             `json:"next_seq"`
	ActiveSegmentID uint64             `json:"active_segment_id"`
	SealedSegments  int                `json:"sealed_segments"`
	DiskBytes       int64              `json:"disk_bytes" table:"bytes"`
	DataBytes       int64              `json:"data_bytes" table:"bytes"`
	LiveBytes       int64              `json:"live_bytes" table:"bytes"`
	Instance        string             `json:"instance" table:"wide"`
}

// SegmentRow is one line of stats --segments.
type SegmentRow struct {
	ID          uint64    `json:"id"`
	Sealed      bool      `json:"sealed"`
	DataBytes   int64     `json:"data_bytes" table:"bytes"`
	LiveBytes   int64     `json:"live_bytes" table:"bytes"`
	LiveRecords int64     `json:"live_records"`
	LiveRatio   float64   `json:"live_ratio"`
	Capacity    int64     `json:"capacity" table:"bytes,wide"`
	CreatedAt   time.Time `json:"created_at" table:"wide"`
}

// CompactCommand runs one compaction pass.
func CompactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "Rewrite sealed segments whose live ratio is below the threshold",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "threshold",
				Usage: "Override storage.compaction.threshold for this run",
			},
		},
		Action: func(c *cli.Context) error {
			s, err := newSession(c, true)
			if err != nil {
				return err
			}
			var mutate []func(*storage.Options)
			if c.IsSet("threshold") {
				th := c.Float64("threshold")
				mutate = append(mutate, func(o *storage.Options) { o.CompactionThreshold = th })
			}
			e, err := s.openEngine(mutate...)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Compact(c.Context)
			if err != nil {
				return err
			}
			return s.print(res)
		},
	}
}

// StatsCommand prints engine statistics.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show record and segment statistics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "segments",
				Usage: "List every segment instead of the summary",
			},
		},
		Action: func(c *cli.Context) error {
			return withEngine(c, func(s *session, e *storage.Engine) error {
				st := e.Stats()
				if s.flags.Output != output.FormatTable {
					return s.print(st)
				}
				if c.Bool("segments") {
					return s.print(segmentRows(st.Segments))
				}
				return s.print(StatsSummary{
					Dir:             st.Dir,
					Durability:      st.Durability,
					Records:         st.Records,
					NextSeq:         st.NextSeq,
					ActiveSegmentID: st.ActiveSegmentID,
					SealedSegments:  st.SealedSegments,
					DiskBytes:       st.DiskBytes,
					DataBytes:       st.DataBytes,
					LiveBytes:       st.LiveBytes,
					Instance:        st.Instance,
				})
			})
		},
	}
}

func segmentRows(segs []storage.SegmentStats) []SegmentRow {
	rows := make([]SegmentRow, 0, len(segs))
	for _, ss := range segs {
		rows = append(rows, SegmentRow{
			ID:          ss.ID,
			Sealed:      ss.Sealed,
			DataBytes:   ss.DataBytes,
			LiveBytes:   ss.LiveBytes,
			LiveRecords: ss.LiveRecords,
			LiveRatio:   ss.LiveRatio,
			Capacity:    ss.Capacity,
			CreatedAt:   ss.CreatedAt,
		})
	}
	return rows
}

// VerifyCommand checks every record on disk. It exits with ExitCorrupt
// when problems are found.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check every record checksum and index entry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Draw a progress bar on stderr",
			},
		},
		Action: func(c *cli.Context) error {
			return withEngine(c, func(s *session, e *storage.Engine) error {
				var progress func(done, total int64)
				var bar *output.ProgressBar
				if c.Bool("progress") {
					bar = output.NewProgressBar(s.stderr, "verify")
					progress = bar.Update
				}

				rep, err := e.Verify(c.Context, progress)
				if bar != nil {
					bar.Finish()
				}
				if err != nil {
					return err
				}

				if s.flags.Output != output.FormatTable {
					if err := s.print(rep); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(s.stdout, "segments: %d  records: %d  tombstones: %d  live: %d  elapsed: %s\n",
						rep.Segments, rep.Records, rep.Tombstones, rep.Live, rep.Elapsed.Round(time.Millisecond))
					if len(rep.Problems) > 0 {
						if err := s.print(rep.Problems); err != nil {
							return err
						}
					}
				}
				if !rep.OK() {
					return cli.Exit(fmt.Sprintf("verify: %d problem(s) found", len(rep.Problems)), ExitCorrupt)
				}
				return nil
			})
		},
	}
}
