// Package events loads weighted Monte Carlo event samples from SQLite
// files and histograms them into maps. Event files are produced by the
// gen-events tool or by external simulation exports.
package events

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
)

// Event is one weighted Monte Carlo event.
type Event struct {
	Flavour     string // nue, nuebar, numu, numubar, nutau, nutaubar
	Interaction string // cc or nc
	TrueEnergy  float64
	TrueCoszen  float64
	RecoEnergy  float64
	RecoCoszen  float64
	Weight      float64
	// WeightedAeff is the per-event effective-area weight (OneWeight
	// style): summing it in a bin and dividing by the bin volume gives
	// the average effective area across the bin.
	WeightedAeff float64
}

// Sample is an in-memory event sample keyed by "flavour_interaction"
// channel names like "numu_cc".
type Sample struct {
	byChannel map[string][]Event
	total     int
}

// Channel names an event's flavour+interaction group.
func (e Event) Channel() string { return e.Flavour + "_" + e.Interaction }

// Schema creates the events table. Exposed so the gen-events tool and
// tests can build event files.
const Schema = `
	CREATE TABLE IF NOT EXISTS events (
		flavour        TEXT NOT NULL,
		interaction    TEXT NOT NULL,
		true_energy    DOUBLE NOT NULL,
		true_coszen    DOUBLE NOT NULL,
		reco_energy    DOUBLE NOT NULL,
		reco_coszen    DOUBLE NOT NULL,
		weight         DOUBLE NOT NULL,
		weighted_aeff  DOUBLE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_channel ON events(flavour, interaction);
`

// Open loads an event sample from a SQLite file. channels limits the
// load to the named flavour+interaction groups; empty loads everything.
func Open(path string, channels ...string) (*Sample, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open events file %q: %w", path, err)
	}
	defer db.Close()
	return Load(db, channels...)
}

// Load reads events from an open database. See Open.
func Load(db *sql.DB, channels ...string) (*Sample, error) {
	query := `SELECT flavour, interaction, true_energy, true_coszen,
		reco_energy, reco_coszen, weight, weighted_aeff FROM events`
	var args []any
	if len(channels) > 0 {
		placeholders := make([]string, len(channels))
		for i, ch := range channels {
			flav, inter, err := splitChannel(ch)
			if err != nil {
				return nil, err
			}
			placeholders[i] = "(flavour = ? AND interaction = ?)"
			args = append(args, flav, inter)
		}
		query += " WHERE " + strings.Join(placeholders, " OR ")
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	s := &Sample{byChannel: make(map[string][]Event)}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Flavour, &e.Interaction, &e.TrueEnergy, &e.TrueCoszen,
			&e.RecoEnergy, &e.RecoCoszen, &e.Weight, &e.WeightedAeff); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		s.byChannel[e.Channel()] = append(s.byChannel[e.Channel()], e)
		s.total++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	monitoring.Debugf("loaded %d events across %d channels", s.total, len(s.byChannel))
	return s, nil
}

// Insert writes events into an open database that already has Schema.
func Insert(db *sql.DB, evts []Event) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events (flavour, interaction, true_energy,
		true_coszen, reco_energy, reco_coszen, weight, weighted_aeff)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range evts {
		if _, err := stmt.Exec(e.Flavour, e.Interaction, e.TrueEnergy, e.TrueCoszen,
			e.RecoEnergy, e.RecoCoszen, e.Weight, e.WeightedAeff); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

func splitChannel(ch string) (flav, inter string, err error) {
	i := strings.LastIndex(ch, "_")
	if i <= 0 || i == len(ch)-1 {
		return "", "", fmt.Errorf("bad channel name %q, want e.g. numu_cc", ch)
	}
	return ch[:i], ch[i+1:], nil
}

// Len returns the number of loaded events.
func (s *Sample) Len() int { return s.total }

// Channels returns the channel names present in the sample.
func (s *Sample) Channels() []string {
	chans := make([]string, 0, len(s.byChannel))
	for ch := range s.byChannel {
		chans = append(chans, ch)
	}
	return chans
}

// Channel returns the events of one channel. The slice is shared.
func (s *Sample) Channel(name string) []Event {
	return s.byChannel[name]
}

// Axis selects the event coordinate feeding a binning dimension.
type Axis func(Event) float64

// AxisFor maps a conventional dimension name to its event coordinate.
func AxisFor(dim string) (Axis, error) {
	switch dim {
	case "true_energy":
		return func(e Event) float64 { return e.TrueEnergy }, nil
	case "true_coszen":
		return func(e Event) float64 { return e.TrueCoszen }, nil
	case "reco_energy":
		return func(e Event) float64 { return e.RecoEnergy }, nil
	case "reco_coszen":
		return func(e Event) float64 { return e.RecoCoszen }, nil
	}
	return nil, fmt.Errorf("no event coordinate for binning dimension %q", dim)
}

// WeightCol selects the weight column applied when histogramming.
type WeightCol int

const (
	// WeightGenerator uses the plain generator weight.
	WeightGenerator WeightCol = iota
	// WeightAeff uses the effective-area weight.
	WeightAeff
)

// Histogram bins one channel of the sample into a map over the given
// binning, using the dimension names to pick the event coordinates.
func (s *Sample) Histogram(channel string, b *binning.MultiDimBinning, col WeightCol) (*hist.Map, error) {
	axes := make([]Axis, len(b.Dims))
	for i, d := range b.Dims {
		ax, err := AxisFor(d.Name)
		if err != nil {
			return nil, err
		}
		axes[i] = ax
	}
	m := hist.NewMap(channel, b)
	coord := make([]float64, len(axes))
	overflow := 0
	for _, e := range s.byChannel[channel] {
		for i, ax := range axes {
			coord[i] = ax(e)
		}
		w := e.Weight
		if col == WeightAeff {
			w = e.WeightedAeff
		}
		if !m.Fill(coord, w) {
			overflow++
		}
	}
	if overflow > 0 {
		monitoring.Debugf("channel %s: %d events outside binning %s", channel, overflow, b)
	}
	return m, nil
}
