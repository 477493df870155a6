package postgres

import "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"

func init() {
	datasource.Register(datasource.DialectRegistration{
		Info: datasource.DialectInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ and compatible servers",
		},
		Dialect: Dialect{},
	})
}
