package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/radarzone/companion/internal/client"
	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/internal/zonefile"
	"github.com/radarzone/companion/pkg/core"
)

var (
	zonePoints []string

	zoneCmd = &cobra.Command{
		Use:   "zone",
		Short: "Manage zones on the sensor server",
	}
	zoneListCmd = &cobra.Command{
		Use:   "list",
		Short: "List zones and whether they are occupied",
		Args:  cobra.NoArgs,
		RunE:  runZoneList,
	}
	zoneCreateCmd = &cobra.Command{
		Use:   "create NAME --point x,y --point x,y --point x,y",
		Short: "Create one zone from its vertices",
		Args:  cobra.ExactArgs(1),
		RunE:  runZoneCreate,
	}
	zoneImportCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Create every zone defined in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runZoneImport,
	}
	zoneExportCmd = &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the server's zones as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runZoneExport,
	}
	zoneDeleteCmd = &cobra.Command{
		Use:   "delete ID|NAME...",
		Short: "Delete zones and wait for the server to confirm",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runZoneDelete,
	}
)

func init() {
	zoneCreateCmd.Flags().StringArrayVar(&zonePoints, "point", nil, "vertex as x,y in metres; repeat for each vertex")
	_ = zoneCreateCmd.MarkFlagRequired("point")

	zoneCmd.AddCommand(zoneListCmd, zoneCreateCmd, zoneImportCmd, zoneExportCmd, zoneDeleteCmd)
}

func runZoneList(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cl, snap, err := connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	return printZones(cmd.OutOrStdout(), snap)
}

func printZones(w io.Writer, snap session.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERTICES\tOCCUPIED")
	for _, z := range snap.Zones {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", z.ID, z.Name, len(z.Points), snap.Active.Has(z.ID))
	}
	return tw.Flush()
}

func runZoneCreate(cmd *cobra.Command, args []string) error {
	points, err := parsePoints(zonePoints)
	if err != nil {
		return err
	}
	return createZones(cmd, []zonefile.Definition{{Name: args[0], Points: points}})
}

func runZoneImport(cmd *cobra.Command, args []string) error {
	defs, err := zonefile.Load(args[0])
	if err != nil {
		return err
	}
	return createZones(cmd, defs)
}

func createZones(cmd *cobra.Command, defs []zonefile.Definition) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cl, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	created := make([]core.Zone, 0, len(defs))
	for _, d := range defs {
		z, err := cl.CreateZone(d.Name, d.Points)
		if err != nil {
			return fmt.Errorf("creating zone %q: %w", d.Name, err)
		}
		created = append(created, z)
	}

	snap, err := roundTrip(ctx, cl)
	if err != nil {
		return fmt.Errorf("waiting for confirmation: %w", err)
	}

	out := cmd.OutOrStdout()
	rejected := 0
	for _, z := range created {
		if _, ok := snap.Zone(z.ID); ok {
			fmt.Fprintf(out, "created %s %s\n", z.ID, z.Name)
			continue
		}
		rejected++
		fmt.Fprintf(out, "rejected %s\n", z.Name)
	}
	if snap.LastError != "" {
		fmt.Fprintf(out, "server error: %s\n", snap.LastError)
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d zones not accepted by the server", rejected, len(created))
	}
	return nil
}

func runZoneExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cl, snap, err := connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	if len(args) == 0 {
		return zonefile.Encode(cmd.OutOrStdout(), snap.Zones)
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := zonefile.Encode(f, snap.Zones); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runZoneDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cl, snap, err := connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	ids := make([]string, 0, len(args))
	for _, ref := range args {
		z, err := resolveZone(snap.Zones, ref)
		if err != nil {
			return err
		}
		if err := cl.DeleteZone(z.ID); err != nil {
			return fmt.Errorf("deleting zone %q: %w", z.Name, err)
		}
		ids = append(ids, z.ID)
	}

	final, err := cl.WaitFor(ctx, func(s session.Snapshot) bool {
		for _, id := range ids {
			if s.IsDeleting(id) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("waiting for confirmation: %w", err)
	}

	out := cmd.OutOrStdout()
	refused := 0
	for _, id := range ids {
		if _, ok := final.Zone(id); ok {
			refused++
			fmt.Fprintf(out, "refused %s\n", id)
			continue
		}
		fmt.Fprintf(out, "deleted %s\n", id)
	}
	if refused > 0 {
		return fmt.Errorf("%d of %d deletions refused by the server", refused, len(ids))
	}
	return nil
}

// resolveZone matches ref against zone ids first, then names.
func resolveZone(zones []core.Zone, ref string) (core.Zone, error) {
	for _, z := range zones {
		if z.ID == ref {
			return z, nil
		}
	}
	for _, z := range zones {
		if core.SameName(z.Name, ref) {
			return z, nil
		}
	}
	return core.Zone{}, fmt.Errorf("%w: %s", client.ErrUnknownZone, ref)
}

var errBadPoint = errors.New("point must be x,y")

func parsePoints(raw []string) ([]core.Point, error) {
	points := make([]core.Point, 0, len(raw))
	for _, s := range raw {
		xs, ys, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: %q", errBadPoint, s)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadPoint, s)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadPoint, s)
		}
		points = append(points, core.Point{X: x, Y: y})
	}
	return points, nil
}
