package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/greenfield-iot/agrialert/internal/alerting"
	"github.com/greenfield-iot/agrialert/internal/datastore"
	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/datastore/repository"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

const ruleFileVersion = 1

// ruleFile is the YAML document read and written by the rules commands.
type ruleFile struct {
	Version int       `yaml:"version"`
	UserID  string    `yaml:"userId,omitempty"`
	Rules   []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	ID         string     `yaml:"id,omitempty"`
	DeviceID   string     `yaml:"deviceId,omitempty"`
	Parameter  string     `yaml:"parameter"`
	Comparison string     `yaml:"comparison"`
	Threshold  float64    `yaml:"threshold"`
	Critical   bool       `yaml:"critical,omitempty"`
	Active     bool       `yaml:"active"`
	Contact    contactDoc `yaml:"contact"`
}

type contactDoc struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

func (d *ruleDoc) rule() *entities.AlertRule {
	return &entities.AlertRule{
		DeviceID:   d.DeviceID,
		Parameter:  sensor.Parameter(d.Parameter),
		Comparison: d.Comparison,
		Threshold:  d.Threshold,
		Critical:   d.Critical,
		Active:     d.Active,
		Contact:    entities.Contact{Type: d.Contact.Type, Value: d.Contact.Value},
	}
}

func docFromRule(r *entities.AlertRule) ruleDoc {
	return ruleDoc{
		ID:         r.ID,
		DeviceID:   r.DeviceID,
		Parameter:  r.Parameter.String(),
		Comparison: r.Comparison,
		Threshold:  r.Threshold,
		Critical:   r.Critical,
		Active:     r.Active,
		Contact:    contactDoc{Type: r.Contact.Type, Value: r.Contact.Value},
	}
}

func rulesCommand(opts *rootOptions) *cobra.Command {
	var userID string

	rules := &cobra.Command{
		Use:   "rules",
		Short: "Export or import a user's alert rules as YAML",
	}
	rules.PersistentFlags().StringVarP(&userID, "user", "u", "", "owner of the rules (required)")
	_ = rules.MarkPersistentFlagRequired("user")

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the user's rules to a YAML file or stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuleStore(opts, cmd.ErrOrStderr(), func(store *alerting.RuleStore) error {
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				n, err := exportRules(cmd.Context(), store, userID, w)
				if err != nil {
					return err
				}
				cmd.PrintErrf("exported %d rules\n", n)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")

	var in string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Create rules for the user from a YAML file or stdin",
		Long: `Create rules for the user from a YAML file or stdin.

Every rule is validated first and all rules are written in one transaction,
so a failed import leaves the user's rules unchanged.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuleStore(opts, cmd.ErrOrStderr(), func(store *alerting.RuleStore) error {
				r := cmd.InOrStdin()
				if in != "" && in != "-" {
					f, err := os.Open(in)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					r = f
				}
				n, err := importRules(cmd.Context(), store, userID, r)
				if err != nil {
					return err
				}
				cmd.PrintErrf("imported %d rules\n", n)
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&in, "file", "f", "-", "input file, - for stdin")

	rules.AddCommand(export, importCmd)
	return rules
}

func withRuleStore(opts *rootOptions, logTo io.Writer, fn func(store *alerting.RuleStore) error) error {
	settings, log, err := opts.load(logTo)
	if err != nil {
		return err
	}
	db, err := datastore.Open(&settings.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = datastore.Close(db) }()

	return fn(alerting.NewRuleStore(repository.NewAlertRuleRepository(db), log))
}

// exportRules writes every rule userID owns and returns how many there were.
func exportRules(ctx context.Context, store *alerting.RuleStore, userID string, w io.Writer) (int, error) {
	rules, err := store.List(ctx, userID, nil)
	if err != nil {
		return 0, err
	}

	doc := ruleFile{Version: ruleFileVersion, UserID: userID, Rules: make([]ruleDoc, 0, len(rules))}
	for i := range rules {
		doc.Rules = append(doc.Rules, docFromRule(&rules[i]))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return 0, err
	}
	return len(doc.Rules), enc.Close()
}

// importRules creates every rule in r for userID. Ids and owners in the file
// are ignored. The import is all or nothing.
func importRules(ctx context.Context, store *alerting.RuleStore, userID string, r io.Reader) (int, error) {
	var doc ruleFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, errors.New(fmt.Errorf("failed to parse rule file: %w", err)).
			Component("rules").
			Category(errors.CategoryValidation).
			Build()
	}
	if doc.Version != 0 && doc.Version != ruleFileVersion {
		return 0, errors.Newf("unsupported rule file version %d", doc.Version).
			Component("rules").
			Category(errors.CategoryValidation).
			Context("field", "version").
			Build()
	}

	rules := make([]*entities.AlertRule, 0, len(doc.Rules))
	for i := range doc.Rules {
		rules = append(rules, doc.Rules[i].rule())
	}
	if err := store.CreateAll(ctx, userID, rules); err != nil {
		return 0, err
	}
	return len(doc.Rules), nil
}
