package db

import "github.com/go-sql-driver/mysql"

func DriverConfigForTest(c MySQLConfig) (*mysql.Config, error) {
	cfg := c.withDefaults()
	return cfg.driverConfig()
}
