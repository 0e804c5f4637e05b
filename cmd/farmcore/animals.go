package main

import (
	"fmt"
	"os"

	"farmcore/internal/qrpayload"
	"farmcore/pkg/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAnimalsCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{Use: "animals", Short: "Register and inspect animals"}
	cmd.AddCommand(
		newAnimalRegisterCmd(state),
		&cobra.Command{
			Use:   "list",
			Short: "List animals, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printJSON(cmd.OutOrStdout(), state.app.svc.ListAnimals(cmd.Context()))
			},
		},
		&cobra.Command{
			Use:   "show <identifier>",
			Short: "Show one animal",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := state.app.svc.FindAnimalByIdentifier(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				url, err := state.app.svc.PayloadURL(cmd.Context(), a.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), animalView{Animal: a, PayloadURL: url})
			},
		},
		&cobra.Command{
			Use:   "prune-payloads",
			Short: "Delete payload images left behind by removed animals",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				removed, err := state.app.svc.PrunePayloads(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"removed": removed})
			},
		},
		&cobra.Command{
			Use:   "delete <identifier>",
			Short: "Delete an animal and its payload",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := state.app.svc.FindAnimalByIdentifier(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return state.app.svc.DeleteAnimal(cmd.Context(), a.ID)
			},
		},
		newAnimalPayloadCmd(state),
	)
	return cmd
}

func newAnimalRegisterCmd(state *cliState) *cobra.Command {
	var (
		d              domain.AnimalDraft
		sex, breed     string
		father, mother string
		weight         string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an animal and assign its identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc := state.app.svc
			var err error
			if d.Sex, err = parseSex(sex); err != nil {
				return err
			}
			if d.Breed, err = parseBreed(breed); err != nil {
				return err
			}
			if weight != "" {
				w, err := decimal.NewFromString(weight)
				if err != nil {
					return fmt.Errorf("weight: %w", err)
				}
				d.Weight = &w
			}
			for _, p := range []struct {
				identifier string
				target     **string
			}{{father, &d.FatherID}, {mother, &d.MotherID}} {
				if p.identifier == "" {
					continue
				}
				parent, err := svc.FindAnimalByIdentifier(ctx, p.identifier)
				if err != nil {
					return err
				}
				id := parent.ID
				*p.target = &id
			}
			a, _, err := svc.RegisterAnimalWithRetry(ctx, d)
			if a.ID != "" {
				if perr := printJSON(cmd.OutOrStdout(), a); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.Name, "name", "", "Animal name")
	f.StringVar(&sex, "sex", "", "Male or Female")
	f.StringVar(&breed, "breed", "", "Breed (Jersey, Holstein, Guernsey, Ayrshire, Brown_Swiss, Zebu, Crossbreed)")
	f.IntVar(&d.YearOfBirth, "year", 0, "Year of birth")
	f.StringVar(&father, "father", "", "Father identifier")
	f.StringVar(&mother, "mother", "", "Mother identifier")
	f.StringVar(&weight, "weight", "", "Weight in kg")
	f.StringVar(&d.HealthStatus, "health", "", "Health status")
	f.StringVar(&d.Notes, "notes", "", "Notes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("sex")
	_ = cmd.MarkFlagRequired("breed")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

type animalView struct {
	domain.Animal
	PayloadURL string `json:"payload_url,omitempty"`
}

func newAnimalPayloadCmd(state *cliState) *cobra.Command {
	var (
		out        string
		regenerate bool
		decode     bool
	)
	cmd := &cobra.Command{
		Use:   "payload <identifier>",
		Short: "Write or decode an animal's QR payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := state.app.svc
			a, err := svc.FindAnimalByIdentifier(ctx, args[0])
			if err != nil {
				return err
			}
			var png []byte
			if regenerate {
				_, png, err = svc.RegeneratePayload(ctx, a.ID)
			} else {
				png, err = svc.Payload(ctx, a.ID)
			}
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, png, 0o600); err != nil {
					return fmt.Errorf("write payload: %w", err)
				}
			}
			if decode {
				snap, err := qrpayload.Decode(png)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(png)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the PNG to this file")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "Re-render from current fields")
	cmd.Flags().BoolVar(&decode, "decode", false, "Print the decoded payload record")
	return cmd
}
