// Package query is a read-only front end over committed snapshots: it mounts
// a snapshot's live Parquet files as DuckDB views and serves them over the
// Postgres wire protocol. It drives the metadata engine only through the
// public read path and owns no table state.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	_ "github.com/marcboeker/go-duckdb"
)

type Server struct {
	db       *sql.DB
	listener net.Listener
	log      *slog.Logger
}

func NewServer(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	if _, err := db.Exec("INSTALL parquet; LOAD parquet;"); err != nil {
		return nil, fmt.Errorf("loading parquet extension: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}

	return &Server{
		db:       db,
		listener: listener,
		log:      logger,
	}, nil
}

// RegisterSnapshot exposes a set of data file paths as a queryable view.
// Paths may be local files or s3:// URLs, anything DuckDB's read_parquet
// accepts. Re-registering a view repoints it at a newer (or older, for time
// travel) snapshot.
func (s *Server) RegisterSnapshot(ctx context.Context, viewName string, filePaths []string) error {
	if len(filePaths) == 0 {
		stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %q AS SELECT NULL WHERE FALSE`, viewName)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("registering empty view %s: %w", viewName, err)
		}
		return nil
	}

	quoted := make([]string, len(filePaths))
	for i, p := range filePaths {
		quoted[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %q AS SELECT * FROM read_parquet([%s])`,
		viewName, strings.Join(quoted, ", "))

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("registering view %s: %w", viewName, err)
	}
	s.log.Info("snapshot registered", "view", viewName, "files", len(filePaths))
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}

		go s.handleConnection(ctx, conn)
	}
}

// Close stops accepting connections and releases DuckDB.
func (s *Server) Close() error {
	if err := s.listener.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)

	if _, err := backend.ReceiveStartupMessage(); err != nil {
		return
	}

	backend.Send(&pgproto3.AuthenticationOk{})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	if err := backend.Flush(); err != nil {
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			if err := s.handleQuery(ctx, backend, msg.String); err != nil {
				s.log.Warn("query failed", "error", err)
				s.sendError(backend, err)
				continue
			}

		case *pgproto3.Terminate:
			return
		}
	}
}

func (s *Server) handleQuery(ctx context.Context, backend *pgproto3.Backend, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}

	if err := s.sendRowDescription(backend, columnTypes); err != nil {
		return err
	}

	values := make([]interface{}, len(columnTypes))
	scanArgs := make([]interface{}, len(columnTypes))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}

		dataRow := &pgproto3.DataRow{
			Values: make([][]byte, len(columnTypes)),
		}

		for i, val := range values {
			if val == nil {
				dataRow.Values[i] = nil
				continue
			}
			dataRow.Values[i] = []byte(fmt.Sprintf("%v", val))
		}

		backend.Send(dataRow)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT")})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})

	return backend.Flush()
}

func (s *Server) sendRowDescription(backend *pgproto3.Backend, columns []*sql.ColumnType) error {
	fields := make([]pgproto3.FieldDescription, len(columns))
	for i, col := range columns {
		dataTypeOID := uint32(25) // TEXT
		if databaseTypeName := col.DatabaseTypeName(); databaseTypeName != "" {
			dataTypeOID = mapDataTypeToOID(databaseTypeName)
		}

		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(col.Name()),
			TableOID:             0,
			TableAttributeNumber: 0,
			DataTypeOID:          dataTypeOID,
			DataTypeSize:         -1,
			TypeModifier:         -1,
			Format:               0,
		}
	}

	backend.Send(&pgproto3.RowDescription{Fields: fields})
	return backend.Flush()
}

func (s *Server) sendError(backend *pgproto3.Backend, err error) {
	backend.Send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "XX000",
		Message:  err.Error(),
	})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	_ = backend.Flush()
}

func mapDataTypeToOID(databaseTypeName string) uint32 {
	switch databaseTypeName {
	case "BOOL":
		return 16
	case "INT8", "BIGINT":
		return 20
	case "INT4", "INTEGER":
		return 23
	case "FLOAT4":
		return 700
	case "FLOAT8", "DOUBLE":
		return 701
	case "VARCHAR", "TEXT":
		return 25
	case "DATE":
		return 1082
	case "TIMESTAMP":
		return 1114
	default:
		return 25
	}
}
