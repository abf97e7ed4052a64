package mysql

import (
	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Dialect:     datasource.DialectMySQL,
			DisplayName: "MySQL",
			Description: "MySQL 8+ and MariaDB",
		},
		Factory: Open,
	})
}
