package services

import domain "github.com/hanko-field/clinic-commerce/internal/domain"

type transitionKey struct {
	from string
	to   string
	role domain.Role
}

type transitionTable map[transitionKey]struct{}

func newTransitionTable(rules ...transitionRule) transitionTable {
	table := make(transitionTable)
	for _, rule := range rules {
		for _, role := range rule.roles {
			table[transitionKey{from: rule.from, to: rule.to, role: role}] = struct{}{}
		}
	}
	return table
}

type transitionRule struct {
	from  string
	to    string
	roles []domain.Role
}

func (t transitionTable) allows(from, to string, role domain.Role) bool {
	_, ok := t[transitionKey{from: from, to: to, role: role}]
	return ok
}

var bookingTransitions = newTransitionTable(
	transitionRule{from: string(domain.BookingStatusPending), to: string(domain.BookingStatusConfirmed), roles: []domain.Role{domain.RoleDoctor, domain.RoleClinicAdmin}},
	transitionRule{from: string(domain.BookingStatusPending), to: string(domain.BookingStatusCancelled), roles: []domain.Role{domain.RoleUser, domain.RoleDoctor, domain.RoleClinicAdmin}},
	transitionRule{from: string(domain.BookingStatusConfirmed), to: string(domain.BookingStatusCompleted), roles: []domain.Role{domain.RoleUser, domain.RoleDoctor}},
	transitionRule{from: string(domain.BookingStatusConfirmed), to: string(domain.BookingStatusCancelled), roles: []domain.Role{domain.RoleDoctor, domain.RoleClinicAdmin}},
)

// User cancellation is further restricted to cash-on-delivery orders by the saga.
var orderTransitions = newTransitionTable(
	transitionRule{from: string(domain.OrderStatusPending), to: string(domain.OrderStatusProcessing), roles: []domain.Role{domain.RolePlatformAdmin}},
	transitionRule{from: string(domain.OrderStatusProcessing), to: string(domain.OrderStatusShipping), roles: []domain.Role{domain.RolePlatformAdmin}},
	transitionRule{from: string(domain.OrderStatusShipping), to: string(domain.OrderStatusDelivered), roles: []domain.Role{domain.RolePlatformAdmin}},
	transitionRule{from: string(domain.OrderStatusPending), to: string(domain.OrderStatusCancelled), roles: []domain.Role{domain.RoleUser, domain.RolePlatformAdmin}},
	transitionRule{from: string(domain.OrderStatusProcessing), to: string(domain.OrderStatusCancelled), roles: []domain.Role{domain.RoleUser, domain.RolePlatformAdmin}},
	transitionRule{from: string(domain.OrderStatusShipping), to: string(domain.OrderStatusCancelled), roles: []domain.Role{domain.RolePlatformAdmin}},
)
