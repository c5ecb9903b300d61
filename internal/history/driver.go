package history

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/uirunner/internal/ratelimit"
)

// DriverName is the SQLCipher driver with the history SQL functions registered.
const DriverName = "sqlite3_uirunner"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("url_host", sqliteURLHost, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register url_host SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteURLHost is url_host(text): the lowercased host of an absolute URL, or "".
func sqliteURLHost(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return ratelimit.HostKey(x), nil
	case []byte:
		return ratelimit.HostKey(string(x)), nil
	default:
		return "", fmt.Errorf("unsupported url_host input type: %T", v)
	}
}
