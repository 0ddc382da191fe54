package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"testing"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/sponsorship"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
	emailsvc "github.com/elimuhub/elimu/services/email"
	dummydb "github.com/elimuhub/elimu/storage/database/dummy"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	logger = log.New(os.Stdout, "TEST : ", log.LstdFlags)

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	conf := &core.Config{AppName: "Elimu", DefaultFromEmail: "noreply@test.cd"}
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrRepo = dummydb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	stdSvc := student.NewService(dummydb.NewStudentRepository(db))
	spoSvc := sponsorship.NewService(dummydb.NewSponsorshipRepository(db), stdSvc, usrSvc, mailSvc)

	return &commandLine{
		usrSvc: usrSvc,
		spoSvc: spoSvc,
	}
}

type cliTest struct {
	name    string
	args    []string // without program name
	pwd     string
	wantErr error
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "down", "status", "version", "reset": // pass
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migratedb"}, wantErr: errHelp},
		{name: "up", args: []string{"migratedb", "up"}},
		{name: "down", args: []string{"migratedb", "down"}},
		{name: "status", args: []string{"migratedb", "status"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil && err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("unknown subcommand", func(t *testing.T) {
		err := cli.run([]string{"admin", "migratedb", "lol"})
		if err == nil || err.Error() != `"lol": no such command` {
			t.Errorf("cli.run() error = %v", err)
		}
	})
}

func Test_commandLine_addAdmin(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "missing flags", args: []string{"addadmin", "-username", "boss01"}, wantErr: errHelp},
		{name: "no password", args: []string{"addadmin", "-username", "boss01", "-email", "boss@test.cd"}, wantErr: errHelp},
		{name: "ok", args: []string{"addadmin", "-username", "boss01", "-email", "boss@test.cd"}, pwd: "s3cretpwd!"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Username: "boss01"})
				if err != nil {
					t.Fatalf("GetUser() failed: %v", err)
				}
				if !usr.IsAdmin() {
					t.Error("expected an admin user")
				}
				if err := usr.CheckPassword(tt.pwd); err != nil {
					t.Error("password not set")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("promotes an existing user", func(t *testing.T) {
		readPasswordFunc = func(fd int) ([]byte, error) { return []byte("newS3cret!"), nil }

		if err := cli.run([]string{"admin", "addadmin", "-username", "boss01", "-email", "boss@test.cd"}); err != nil {
			t.Fatalf("cli.run() failed: %v", err)
		}
		usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Username: "boss01"})
		if err != nil {
			t.Fatalf("GetUser() failed: %v", err)
		}
		if err := usr.CheckPassword("newS3cret!"); err != nil {
			t.Error("password not updated")
		}
	})
}

func Test_commandLine_sweep(t *testing.T) {
	cli := setup(t)
	if err := cli.run([]string{"admin", "sweep"}); err != nil {
		t.Errorf("cli.run() error = %v", err)
	}
}
