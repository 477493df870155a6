package trino

import "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"

func init() {
	datasource.Register(datasource.DialectRegistration{
		Info: datasource.DialectInfo{
			Type:        "trino",
			DisplayName: "Trino",
			Description: "Trino and Starburst clusters over HTTP",
		},
		Dialect: Dialect{},
	})
}
