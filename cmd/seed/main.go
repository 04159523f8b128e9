// Command seed loads a stop/subline reference dataset into the
// Postgres tables the Catalog Reader queries. The streaming XML
// token-by-token decode loop — walk tokens, decode each Stop/Subline
// element as it's found, discard the rest — is adapted
// directly from Travigo-travigo/main.go's NaPTAN importer, retargeted
// from printing decoded elements to upserting rows.
package main

import (
	"database/sql"
	"encoding/xml"
	"io"
	"os"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// stopElement is one <Stop> entry in the seed document: a stable stop
// id plus its display fields and coordinate.
type stopElement struct {
	ID   string  `xml:"id,attr"`
	Code string  `xml:"Code"`
	Name string  `xml:"Name"`
	Ref  string  `xml:"Ref"`
	Lat  float64 `xml:"Lat"`
	Lng  float64 `xml:"Lng"`
}

// sublineElement is one <Subline> entry: a directional variant of a
// main route, with its stops in drive-path order.
type sublineElement struct {
	ID          int64    `xml:"id,attr"`
	MainRouteID int64    `xml:"mainRouteId,attr"`
	StopIDs     []string `xml:"Stop"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	app := &cli.App{
		Name:  "seed",
		Usage: "load a stop/subline catalog XML document into Postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "path to the catalog seed XML document"},
			&cli.StringFlag{Name: "database-url", EnvVars: []string{"DATABASE_URL"}, Required: true},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run(c *cli.Context) error {
	f, err := os.Open(c.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := sql.Open("pgx", c.String("database-url"))
	if err != nil {
		return err
	}
	defer db.Close()

	var stops, sublines int
	d := xml.NewDecoder(f)
	for {
		tok, err := d.Token()
		if tok == nil || err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Stop":
			var stop stopElement
			if err := d.DecodeElement(&stop, &start); err != nil {
				return err
			}
			if err := upsertStop(db, stop); err != nil {
				log.Error().Err(err).Str("stop_id", stop.ID).Msg("seed: upsert stop failed")
				continue
			}
			stops++
		case "Subline":
			var subline sublineElement
			if err := d.DecodeElement(&subline, &start); err != nil {
				return err
			}
			if err := upsertSubline(db, subline); err != nil {
				log.Error().Err(err).Int64("subline_id", subline.ID).Msg("seed: upsert subline failed")
				continue
			}
			sublines++
		}
	}

	log.Info().Int("stops", stops).Int("sublines", sublines).Msg("seed: load complete")
	return nil
}

func upsertStop(db *sql.DB, stop stopElement) error {
	q, args, err := sq.
		Insert("stops").
		Columns("id", "code", "name", "ref", "lat", "lng").
		Values(stop.ID, stop.Code, stop.Name, stop.Ref, stop.Lat, stop.Lng).
		Suffix("ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, ref = EXCLUDED.ref, lat = EXCLUDED.lat, lng = EXCLUDED.lng").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	_, err = db.Exec(q, args...)
	return err
}

func upsertSubline(db *sql.DB, subline sublineElement) error {
	q, args, err := sq.
		Insert("sublines").
		Columns("id", "main_route_id").
		Values(subline.ID, subline.MainRouteID).
		Suffix("ON CONFLICT (id) DO UPDATE SET main_route_id = EXCLUDED.main_route_id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.Exec(q, args...); err != nil {
		return err
	}

	delQ, delArgs, err := sq.Delete("subline_stops").Where(sq.Eq{"subline_id": subline.ID}).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return err
	}
	if _, err := db.Exec(delQ, delArgs...); err != nil {
		return err
	}

	for order, stopID := range subline.StopIDs {
		insQ, insArgs, err := sq.
			Insert("subline_stops").
			Columns("subline_id", "stop_order", "stop_id").
			Values(subline.ID, order, stopID).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := db.Exec(insQ, insArgs...); err != nil {
			return err
		}
	}
	return nil
}
