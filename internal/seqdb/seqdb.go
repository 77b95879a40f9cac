// Package seqdb provides classes that record awgseq activity in a ClickHouse
// database: process lifetimes, program arm events, and composed pulses.
package seqdb

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
)

const databaseName = "awgseq" // official SQL name of the database

// ActivityMessage describes one run of the server process.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// NewActivityMessage fills an ActivityMessage for the current process.
func NewActivityMessage(version, githash string) *ActivityMessage {
	host, err := os.Hostname()
	if err != nil {
		host = "host not detected"
	}
	return &ActivityMessage{
		ID:        ulid.Make().String(),
		Hostname:  host,
		Githash:   githash,
		Version:   version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     time.Now(),
	}
}

// ArmMessage records that a program was armed on a channel pair.
type ArmMessage struct {
	ID          string
	ActivityID  string
	ChannelPair string
	ProgramName string
	Time        time.Time
}

// ComposeMessage records one composed pulse.
type ComposeMessage struct {
	ID         string
	ActivityID string
	Identifier string
	NumPulses  int
	FillParam  string
	Prefix     string
	Time       time.Time
}

// Connection wraps the ClickHouse connection and its message channels. A
// connection that failed to open stays usable: every Record call becomes a
// no-op.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	armmsg        chan *ArmMessage
	composemsg    chan *ComposeMessage
	sync.WaitGroup
}

// IsConnected reports whether the database is reachable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer opens a connection, pings it, and reports the server version.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// Start opens the DB connection, logs the activity entry, and launches the
// handler goroutine. The returned connection is usable even when the server
// is absent.
func Start(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activityEntry = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// Dummy returns a never-connected Connection, for callers that want the
// recording interface without a database.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	// Counted before any early return, so the handler goroutine's Done is
	// always balanced even when the server is unreachable.
	db.Add(1)

	// Credentials come from the environment; a .env file may supply them.
	godotenv.Load()
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("AWGSEQ_DB_USER"),
		Password: os.Getenv("AWGSEQ_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "awgseq", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	ctx := context.Background()
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.armmsg = make(chan *ArmMessage)
	db.composemsg = make(chan *ComposeMessage)
	return db
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case amsg := <-db.armmsg:
			db.handleArmMessage(amsg)
		case cmsg := <-db.composemsg:
			db.handleComposeMessage(cmsg)
		}
	}
}

// Disconnect closes out the activity entry with the end time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordArm stores an arm event in the DB (if it's open).
func (db *Connection) RecordArm(msg *ArmMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.ID = ulid.Make().String()
	msg.ActivityID = db.activityEntry.ID
	go func() { db.armmsg <- msg }()
}

// RecordCompose stores a composed-pulse event in the DB (if it's open).
func (db *Connection) RecordCompose(msg *ComposeMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.ID = ulid.Make().String()
	msg.ActivityID = db.activityEntry.ID
	go func() { db.composemsg <- msg }()
}

const timeFormat = "2006-01-02 15:04:05.000000"

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	formattedStart := ae.Start.Format(timeFormat)
	formattedEnd := ae.End.Format(timeFormat)
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO activity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into activity ", err)
		db.err = err
	}
}

func (db *Connection) handleArmMessage(m *ArmMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO arms VALUES (?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.ChannelPair, m.ProgramName, m.Time.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into arms ", err)
		db.err = err
	}
}

func (db *Connection) handleComposeMessage(m *ComposeMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO composes VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.Identifier, m.NumPulses, m.FillParam, m.Prefix, m.Time.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into composes ", err)
		db.err = err
	}
}
