package mssql

import "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"

func init() {
	datasource.Register(datasource.DialectRegistration{
		Info: datasource.DialectInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2019+ and Azure SQL Database",
		},
		Dialect: Dialect{},
	})
}
