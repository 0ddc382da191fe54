package dummydb

import (
	"sync"

	"github.com/elimuhub/elimu/core/catalog"
	"github.com/elimuhub/elimu/core/order"
	"github.com/elimuhub/elimu/core/sponsorship"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
)

type (
	DB struct {
		user        *userTable
		student     *studentTable
		catalog     *catalogTable
		order       *orderTable
		sponsorship *sponsorshipTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	studentTable struct {
		sync.RWMutex
		table  map[string]*student.Student
		ledger map[string][]student.Transaction // keyed by student ID, in insertion order
	}

	catalogTable struct {
		sync.RWMutex
		table map[string]*catalog.Item
	}

	orderTable struct {
		sync.RWMutex
		table map[string]*order.Order
	}

	sponsorshipTable struct {
		sync.RWMutex
		table map[string]*sponsorship.Sponsorship
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:        &userTable{table: make(map[string]*user.User)},
		student:     &studentTable{table: make(map[string]*student.Student), ledger: make(map[string][]student.Transaction)},
		catalog:     &catalogTable{table: make(map[string]*catalog.Item)},
		order:       &orderTable{table: make(map[string]*order.Order)},
		sponsorship: &sponsorshipTable{table: make(map[string]*sponsorship.Sponsorship)},
	}
	return db, nil
}
