package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"labcore/internal/status"
)

type catalogDomain struct {
	Key         string              `json:"key"`
	States      []status.StateDef   `json:"states"`
	Transitions map[string][]string `json:"transitions,omitempty"`
}

func newCatalogCmd(a *app) *cobra.Command {
	var (
		domainKey string
		file      string
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the registered status domains",
		Long:  `Loads the status catalog (LABCORE_STATUS_CATALOG, --file, or the built-in one), validates it and prints its domains, states and transitions.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.validator(file)
			if err != nil {
				return err
			}
			reg := v.Registry()
			keys := reg.Domains()
			if domainKey != "" {
				if !reg.HasDomain(domainKey) {
					return status.UnknownDomainError{Domain: domainKey}
				}
				keys = []string{domainKey}
			}
			out := make([]catalogDomain, 0, len(keys))
			for _, key := range keys {
				out = append(out, describeDomain(v, key))
			}
			a.logger.Debug("catalog loaded", "domains", len(out))
			if domainKey != "" {
				return writeJSON(cmd.OutOrStdout(), out[0])
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&domainKey, "domain", "", "print a single domain")
	cmd.Flags().StringVar(&file, "file", "", "validate and print this YAML catalog instead of the configured one")
	return cmd
}

func describeDomain(v *status.Validator, key string) catalogDomain {
	d := catalogDomain{Key: key, States: v.Registry().States(key)}
	for _, def := range d.States {
		next := v.AllowedNextStates(key, def.Key)
		if len(next) == 0 {
			continue
		}
		if d.Transitions == nil {
			d.Transitions = make(map[string][]string)
		}
		d.Transitions[def.Key] = next
	}
	return d
}

func describeState(v *status.Validator, domainKey, state string) string {
	if def, ok := v.Registry().State(domainKey, state); ok {
		return def.Label
	}
	return fmt.Sprintf("%s (undeclared)", state)
}
