package dialect

import (
	"fmt"
	"net/url"
	"strings"
)

// driverClasses maps legacy JDBC driver class names onto database/sql driver names.
var driverClasses = map[string]string{
	"com.mysql.jdbc.Driver":                        "mysql",
	"com.mysql.cj.jdbc.Driver":                     "mysql",
	"org.mariadb.jdbc.Driver":                      "mysql",
	"org.postgresql.Driver":                        "postgres",
	"com.microsoft.sqlserver.jdbc.SQLServerDriver": "sqlserver",
	"org.sqlite.JDBC":                              "sqlite3",
}

// DriverForClass returns the driver name for a JDBC driver class, or "".
func DriverForClass(class string) string {
	return driverClasses[strings.TrimSpace(class)]
}

// ParseURL splits a configured URL into a driver name and a driver DSN.
// jdbc: URLs are translated; plain URLs are returned unchanged with the
// driver inferred from the scheme where possible (otherwise driver is "").
//
//	jdbc:mysql://h:3306/db          -> mysql, tcp(h:3306)/db
//	jdbc:postgresql://h:5432/db?x=y -> postgres, postgres://h:5432/db?x=y
//	jdbc:sqlserver://h:1433;databaseName=db -> sqlserver, sqlserver://h:1433?database=db
//	jdbc:sqlite:/tmp/app.db         -> sqlite3, /tmp/app.db
func ParseURL(raw string) (driver, dsn string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "jdbc:") {
		return inferDriver(raw), raw, nil
	}

	rest := strings.TrimPrefix(raw, "jdbc:")
	sub, tail, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed jdbc url %q", ErrUnsupported, raw)
	}

	switch sub {
	case "mysql", "mariadb":
		u, err := url.Parse(tail)
		if err != nil {
			return "", "", fmt.Errorf("jdbc url: %w", err)
		}
		// JDBC connection properties have no go-sql-driver equivalent and are dropped
		return "mysql", fmt.Sprintf("tcp(%s)/%s", u.Host, strings.TrimPrefix(u.Path, "/")), nil
	case "postgresql", "postgres":
		u, err := url.Parse(tail)
		if err != nil {
			return "", "", fmt.Errorf("jdbc url: %w", err)
		}
		u.Scheme = "postgres"
		return "postgres", u.String(), nil
	case "sqlserver":
		return "sqlserver", sqlserverURL(tail), nil
	case "sqlite":
		return "sqlite3", tail, nil
	}
	return "", "", fmt.Errorf("%w: jdbc subprotocol %q", ErrUnsupported, sub)
}

func inferDriver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "sqlserver://"):
		return "sqlserver"
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return "sqlite3"
	}
	return ""
}

// sqlserverURL converts "//host:port;key=value;..." into a go-mssqldb URL.
func sqlserverURL(tail string) string {
	parts := strings.Split(strings.TrimPrefix(tail, "//"), ";")
	u := url.URL{Scheme: "sqlserver", Host: parts[0]}
	q := url.Values{}
	var user, pass string
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		switch strings.ToLower(k) {
		case "databasename", "database":
			q.Set("database", v)
		case "user", "username":
			user = v
		case "password":
			pass = v
		default:
			q.Set(k, v)
		}
	}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
