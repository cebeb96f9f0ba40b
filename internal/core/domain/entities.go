package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role represents user role in the system
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleTreasurer Role = "TREASURER"
	RoleSecretary Role = "SECRETARY"
	RoleMember    Role = "MEMBER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTreasurer, RoleSecretary, RoleMember:
		return true
	}
	return false
}

// Actor is the authenticated principal invoking an operation.
type Actor struct {
	UserID uint
	Role   Role
}

// SystemActor is used by scheduled jobs and payment callbacks.
var SystemActor = Actor{UserID: 0, Role: RoleAdmin}

// IsSystem reports whether the actor is the internal scheduler/callback principal.
func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

// ============================================================
// Groups & Memberships
// ============================================================

// Frequency is how often a group contributes (and how often loans fall due).
type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

// ParseFrequency normalises s into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return f, nil
	}
	return "", Validationf("unknown frequency %q", s)
}

// Advance returns t moved forward by n periods.
func (f Frequency) Advance(t time.Time, n int) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, n)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14*n)
	default:
		return t.AddDate(0, n, 0)
	}
}

type GroupStatus string

const (
	GroupActive    GroupStatus = "ACTIVE"
	GroupInactive  GroupStatus = "INACTIVE"
	GroupSuspended GroupStatus = "SUSPENDED"
	GroupClosed    GroupStatus = "CLOSED"
)

type MembershipStatus string

const (
	MembershipPending   MembershipStatus = "PENDING"
	MembershipActive    MembershipStatus = "ACTIVE"
	MembershipSuspended MembershipStatus = "SUSPENDED"
	MembershipWithdrawn MembershipStatus = "WITHDRAWN"
)

// ParseMembershipStatus normalises s into a MembershipStatus.
func ParseMembershipStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case MembershipPending, MembershipActive, MembershipSuspended, MembershipWithdrawn:
		return st, nil
	}
	return "", Validationf("unknown membership status %q", s)
}

// ============================================================
// Cycles & Contributions
// ============================================================

type CycleStatus string

const (
	CycleOpen     CycleStatus = "OPEN"
	CycleComplete CycleStatus = "COMPLETE"
	CycleClosed   CycleStatus = "CLOSED"
)

var cycleTransitions = map[CycleStatus][]CycleStatus{
	CycleOpen:     {CycleComplete},
	CycleComplete: {CycleClosed},
}

// CanTransitionTo reports whether a cycle may move from s to next.
func (s CycleStatus) CanTransitionTo(next CycleStatus) bool {
	return allowed(cycleTransitions[s], next)
}

// Active reports whether the cycle still occupies its group's current slot.
func (s CycleStatus) Active() bool {
	return s == CycleOpen || s == CycleComplete
}

type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "PENDING"
	ContributionConfirmed ContributionStatus = "CONFIRMED"
	ContributionFailed    ContributionStatus = "FAILED"
)

// PaymentMethod is how money moved between a member and the group.
type PaymentMethod string

const (
	MethodMpesa     PaymentMethod = "MPESA"
	MethodBank      PaymentMethod = "BANK"
	MethodCash      PaymentMethod = "CASH"
	MethodCard      PaymentMethod = "CARD"
	MethodDeduction PaymentMethod = "DEDUCTION"
)

// ParsePaymentMethod normalises s into a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodMpesa, MethodBank, MethodCash, MethodCard, MethodDeduction:
		return m, nil
	}
	return "", Validationf("unknown payment method %q", s)
}

type PenaltyStatus string

const (
	PenaltyUnpaid PenaltyStatus = "UNPAID"
	PenaltyPaid   PenaltyStatus = "PAID"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutConfirmed  PayoutStatus = "CONFIRMED"
	PayoutFailed     PayoutStatus = "FAILED"
)

// PaymentStatus is what the payment collaborator reports for an instruction.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// ============================================================
// Loans
// ============================================================

type LoanStatus string

const (
	LoanApplied           LoanStatus = "APPLIED"
	LoanGuarantorsPending LoanStatus = "GUARANTORS_PENDING"
	LoanApproved          LoanStatus = "APPROVED"
	LoanRejected          LoanStatus = "REJECTED"
	LoanDisbursed         LoanStatus = "DISBURSED"
	LoanRepaying          LoanStatus = "REPAYING"
	LoanClosed            LoanStatus = "CLOSED"
	LoanDefaulted         LoanStatus = "DEFAULTED"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanApplied:           {LoanGuarantorsPending, LoanApproved, LoanRejected},
	LoanGuarantorsPending: {LoanApproved, LoanRejected},
	LoanApproved:          {LoanDisbursed},
	LoanDisbursed:         {LoanRepaying},
	LoanRepaying:          {LoanClosed, LoanDefaulted},
}

// CanTransitionTo reports whether a loan may move from s to next.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	return allowed(loanTransitions[s], next)
}

// Terminal reports whether no further transitions are possible.
func (s LoanStatus) Terminal() bool {
	return len(loanTransitions[s]) == 0
}

type GuarantorStatus string

const (
	GuarantorPending  GuarantorStatus = "PENDING"
	GuarantorAccepted GuarantorStatus = "ACCEPTED"
	GuarantorDeclined GuarantorStatus = "DECLINED"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

// InterestMethod selects how loan interest accrues over the schedule.
type InterestMethod string

const (
	InterestSimple          InterestMethod = "SIMPLE"
	InterestReducingBalance InterestMethod = "REDUCING_BALANCE"
)

// ParseInterestMethod rejects empty input: the method has no default.
func ParseInterestMethod(s string) (InterestMethod, error) {
	m := InterestMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case InterestSimple, InterestReducingBalance:
		return m, nil
	case "":
		return "", fmt.Errorf("interest method must be set explicitly (%s or %s)", InterestSimple, InterestReducingBalance)
	}
	return "", fmt.Errorf("unknown interest method %q", s)
}

// ============================================================
// Meetings
// ============================================================

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "SCHEDULED"
	MeetingOngoing   MeetingStatus = "ONGOING"
	MeetingCompleted MeetingStatus = "COMPLETED"
	MeetingCancelled MeetingStatus = "CANCELLED"
)

var meetingTransitions = map[MeetingStatus][]MeetingStatus{
	MeetingScheduled: {MeetingOngoing, MeetingCancelled},
	MeetingOngoing:   {MeetingCompleted},
}

// CanTransitionTo reports whether a meeting may move from s to next.
func (s MeetingStatus) CanTransitionTo(next MeetingStatus) bool {
	return allowed(meetingTransitions[s], next)
}

// ParseMeetingStatus normalises s; the empty string means any status.
func ParseMeetingStatus(s string) (MeetingStatus, error) {
	st := MeetingStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case "", MeetingScheduled, MeetingOngoing, MeetingCompleted, MeetingCancelled:
		return st, nil
	}
	return "", Validationf("unknown meeting status %q", s)
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceExcused AttendanceStatus = "EXCUSED"
	AttendanceLate    AttendanceStatus = "LATE"
)

// ParseAttendanceStatus normalises s into an AttendanceStatus.
func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	st := AttendanceStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case AttendancePresent, AttendanceAbsent, AttendanceExcused, AttendanceLate:
		return st, nil
	}
	return "", Validationf("unknown attendance status %q", s)
}

// Arrived reports whether the member was physically at the meeting.
func (s AttendanceStatus) Arrived() bool {
	return s == AttendancePresent || s == AttendanceLate
}

// ============================================================
// Events
// ============================================================

// EventType names a notification-worthy occurrence.
type EventType string

const (
	EventCycleOpened          EventType = "cycle.opened"
	EventContributionRecorded EventType = "contribution.recorded"
	EventContributionLate     EventType = "contribution.late"
	EventContributionFailed   EventType = "contribution.failed"
	EventCycleCompleted       EventType = "cycle.completed"
	EventCycleClosed          EventType = "cycle.closed"
	EventPayoutProcessed      EventType = "payout.processed"
	EventPayoutFailed         EventType = "payout.failed"
	EventLoanStatusChanged    EventType = "loan.status_changed"
	EventGuarantorRequested   EventType = "loan.guarantor_requested"
	EventRepaymentRecorded    EventType = "loan.repayment_recorded"
	EventInstallmentDue       EventType = "installment.due"
	EventInstallmentOverdue   EventType = "installment.overdue"
	EventMeetingScheduled     EventType = "meeting.scheduled"
	EventMeetingCancelled     EventType = "meeting.cancelled"
)

func allowed[S CycleStatus | LoanStatus | MeetingStatus](set []S, next S) bool {
	for _, s := range set {
		if s == next {
			return true
		}
	}
	return false
}
