package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

type describeFlags struct {
	year      int
	make      string
	model     string
	trim      string
	mileage   int
	title     string
	vin       string
	features  []string
	notes     string
	narrative string
	template  string
}

func describeCommand() *cobra.Command {
	flags := &describeFlags{}
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the listing description built from vehicle attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().IntVar(&flags.year, "year", 0, "Model year")
	cmd.Flags().StringVar(&flags.make, "make", "", "Make")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model")
	cmd.Flags().StringVar(&flags.trim, "trim", "", "Trim level")
	cmd.Flags().IntVar(&flags.mileage, "mileage", 0, "Odometer reading in miles")
	cmd.Flags().StringVar(&flags.title, "title", "", "Title status")
	cmd.Flags().StringVar(&flags.vin, "vin", "", "Vehicle identification number")
	cmd.Flags().StringSliceVar(&flags.features, "features", nil, "Comma separated features")
	cmd.Flags().StringVar(&flags.notes, "notes", "", "Free text appended to the description")
	cmd.Flags().StringVar(&flags.narrative, "narrative", "", "Ready-made description; wins over the template when set")
	cmd.Flags().StringVar(&flags.template, "template", "", "Go text/template file (default: built-in)")

	return cmd
}

func runDescribe(w io.Writer, flags *describeFlags) error {
	var tmpl string
	if flags.template != "" {
		data, err := os.ReadFile(flags.template)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		tmpl = string(data)
	}

	composer, err := describe.NewComposer(tmpl)
	if err != nil {
		return err
	}

	desc, err := composer.Compose(describe.Candidates{Narrative: flags.narrative}, flags.attributes())
	if err != nil {
		return err
	}

	fmt.Fprintln(w, desc.Text)
	return nil
}

func (f *describeFlags) attributes() *vehicle.Attributes {
	attrs := vehicle.NewAttributes()
	set := func(field vehicle.Field, value string) {
		if value != "" {
			attrs.Set(field, value, vehicle.SourceManual)
		}
	}
	if f.year > 0 {
		set(vehicle.FieldYear, strconv.Itoa(f.year))
	}
	set(vehicle.FieldMake, f.make)
	set(vehicle.FieldModel, f.model)
	set(vehicle.FieldTrim, f.trim)
	if f.mileage > 0 {
		set(vehicle.FieldMileage, strconv.Itoa(f.mileage))
	}
	set(vehicle.FieldTitleStatus, f.title)
	set(vehicle.FieldVIN, f.vin)
	attrs.AddFeatures(f.features...)
	if f.notes != "" {
		attrs.AppendNotes(f.notes)
	}
	return attrs
}
