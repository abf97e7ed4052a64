package postgres

import (
	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Dialect:     datasource.DialectPostgreSQL,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ through pgxpool",
		},
		Factory: Open,
	})
}
