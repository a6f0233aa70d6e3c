package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	View       string
	ShowHidden bool
	Format     string
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	opts := &ListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the metrics, dimensions, views, models and topics of the project",
		Example: `  leapmetrics list metrics
  leapmetrics list dimensions --view orders
  leapmetrics list views --format json`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md")

	fieldsCmd := func(use, short string, measures bool) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listFields(cmd, opts, measures)
			},
		}
		c.Flags().StringVar(&opts.View, "view", "", "Only list fields of this view")
		c.Flags().BoolVar(&opts.ShowHidden, "show-hidden", false, "Include hidden fields")
		return c
	}
	cmd.AddCommand(fieldsCmd("metrics", "List metrics", true))
	cmd.AddCommand(fieldsCmd("dimensions", "List dimensions", false))
	cmd.AddCommand(objectsCmd("views", "List views", opts, viewRows))
	cmd.AddCommand(objectsCmd("models", "List models", opts, modelRows))
	cmd.AddCommand(objectsCmd("topics", "List topics", opts, topicRows))

	return cmd
}

func listFields(cmd *cobra.Command, opts *ListOptions, measures bool) error {
	cc := NewCommandContext(cmd)
	format := cc.Format(opts.Format)
	if err := checkFormat(format); err != nil {
		return err
	}
	p, err := cc.LoadProject(cmd.Context())
	if err != nil {
		return err
	}
	list := p.ListDimensions
	if measures {
		list = p.ListMetrics
	}
	fields, err := list(opts.View, opts.ShowHidden)
	if err != nil {
		return err
	}
	return renderFields(cc.Out, fields, format)
}

// objectRows returns the header, the table rows and the JSON form of one
// kind of project object.
type objectRows func(p *model.Project) (table.Row, []table.Row, any)

func objectsCmd(use, short string, opts *ListOptions, rows objectRows) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			format := cc.Format(opts.Format)
			if err := checkFormat(format); err != nil {
				return err
			}
			p, err := cc.LoadProject(cmd.Context())
			if err != nil {
				return err
			}
			header, body, doc := rows(p)
			if format == formatJSON {
				return writeJSON(cc.Out, doc)
			}
			return renderTable(cc.Out, header, body, format, false)
		},
	}
}

type viewInfo struct {
	Name        string `json:"name"`
	Model       string `json:"model_name"`
	Table       string `json:"sql_table_name,omitempty"`
	Description string `json:"description,omitempty"`
}

func viewRows(p *model.Project) (table.Row, []table.Row, any) {
	views := p.ListViews()
	infos := make([]viewInfo, 0, len(views))
	rows := make([]table.Row, 0, len(views))
	for _, v := range views {
		vi := viewInfo{Name: v.Name, Model: v.ModelName, Table: v.SQLTableName, Description: v.Description}
		infos = append(infos, vi)
		rows = append(rows, table.Row{vi.Name, vi.Model, vi.Table, vi.Description})
	}
	return table.Row{"View", "Model", "Table", "Description"}, rows, infos
}

type modelInfo struct {
	Name       string `json:"name"`
	Connection string `json:"connection"`
	Views      int    `json:"views"`
}

func modelRows(p *model.Project) (table.Row, []table.Row, any) {
	counts := make(map[string]int)
	for _, v := range p.ListViews() {
		counts[v.ModelName]++
	}
	models := p.ListModels()
	infos := make([]modelInfo, 0, len(models))
	rows := make([]table.Row, 0, len(models))
	for _, m := range models {
		mi := modelInfo{Name: m.Name, Connection: m.Connection, Views: counts[m.Name]}
		infos = append(infos, mi)
		rows = append(rows, table.Row{mi.Name, mi.Connection, mi.Views})
	}
	return table.Row{"Model", "Connection", "Views"}, rows, infos
}

type topicInfo struct {
	Label       string `json:"label"`
	BaseView    string `json:"base_view"`
	Views       int    `json:"views"`
	Description string `json:"description,omitempty"`
}

func topicRows(p *model.Project) (table.Row, []table.Row, any) {
	topics := p.ListTopics()
	infos := make([]topicInfo, 0, len(topics))
	rows := make([]table.Row, 0, len(topics))
	for _, t := range topics {
		ti := topicInfo{Label: t.Label, BaseView: t.BaseView, Views: len(t.Views), Description: t.Description}
		infos = append(infos, ti)
		rows = append(rows, table.Row{ti.Label, ti.BaseView, ti.Views, ti.Description})
	}
	return table.Row{"Topic", "Base view", "Views", "Description"}, rows, infos
}

// NewDefineCommand creates the define command.
func NewDefineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "define <metric>",
		Short: "Print the SQL definition of a metric",
		Long: `Print the aggregate SQL of a metric with every field reference expanded,
as it would appear in a compiled query.`,
		Example: `  leapmetrics define total_revenue
  leapmetrics define orders.average_order_value`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			p, err := cc.LoadProject(cmd.Context())
			if err != nil {
				return err
			}
			sql, err := p.Define(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cc.Out, sql)
			return err
		},
	}
}
