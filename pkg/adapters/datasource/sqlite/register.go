package sqlite

import "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"

func init() {
	datasource.Register(datasource.DialectRegistration{
		Info: datasource.DialectInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Local SQLite database files",
		},
		Dialect: Dialect{},
	})
}
