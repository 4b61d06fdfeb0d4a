package plan

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/wholesaling-data/leadsloader/warehouse/model"
)

// stagingAlias is the alias the staging table is selected under.
const stagingAlias = "stg"

// SQL renders one expression as a select-list item.
//
// STRING targets use a hard CAST: text can represent any input value.
// Every other target uses SAFE_CAST so an incompatible cell degrades to
// NULL instead of aborting the whole statement.
func (e Expression) SQL() string {
	if !e.HasSource {
		return fmt.Sprintf("CAST(NULL AS %[2]s) AS `%[1]s`", e.Column, e.Target)
	}
	if e.Target == model.StringType {
		return fmt.Sprintf("CAST(%[3]s.`%[1]s` AS STRING) AS `%[1]s`", e.Column, e.Target, stagingAlias)
	}
	return fmt.Sprintf("SAFE_CAST(%[3]s.`%[1]s` AS %[2]s) AS `%[1]s`", e.Column, e.Target, stagingAlias)
}

// InsertSQL composes the INSERT-SELECT moving staging rows into the
// destination. The explicit column list and the select list are both in
// plan order, so they always line up 1:1.
func (p Plan) InsertSQL(destination, staging model.Table) string {
	columns := lo.Map(p, func(e Expression, _ int) string {
		return fmt.Sprintf("`%s`", e.Column)
	})
	selectList := lo.Map(p, func(e Expression, _ int) string {
		return e.SQL()
	})

	return fmt.Sprintf(`
		INSERT INTO %[1]s (%[3]s)
		SELECT
		  %[4]s
		FROM
		  %[2]s AS %[5]s;
`,
		quoteTable(destination),
		quoteTable(staging),
		strings.Join(columns, ", "),
		strings.Join(selectList, ",\n		  "),
		stagingAlias,
	)
}

func quoteTable(t model.Table) string {
	return fmt.Sprintf("`%s`", t.String())
}
