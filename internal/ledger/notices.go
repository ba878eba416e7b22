package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	DefaultNoticeDelay = 15
	MinNoticeDelay     = 1
	MaxNoticeDelay     = 60

	CodeNoticeOverdue = "notice.overdue"
)

type NoticeView struct {
	domain.FormalNotice
	Echeance time.Time `json:"echeance" format:"date-time"`
	Overdue  bool      `json:"depassee"`
}

type NoticeSummary struct {
	Count    int            `json:"count"`
	ByStatut map[string]int `json:"par_statut"`
	ByType   map[string]int `json:"par_type"`
	Notices  []NoticeView   `json:"mises_en_demeure"`
	Pending  int            `json:"en_attente"`
	Overdue  int            `json:"depassees"`
}

func (s NoticeSummary) Signals() []Signal {
	if s.Overdue == 0 {
		return nil
	}
	return []Signal{{
		Severity: domain.SeverityWarning,
		Code:     CodeNoticeOverdue,
		Title:    "Mise en demeure sans réponse",
		Message:  fmt.Sprintf("%d mise(s) en demeure hors délai", s.Overdue),
		Action:   "Relancer",
		Value:    float64(s.Overdue),
	}}
}

// NoticeResolved reports whether the recipient complied.
func NoticeResolved(statut string) bool {
	return statut == domain.NoticeLevee
}

// SummarizeNotices counts notices by status and type. A notice is overdue
// once its compliance deadline has passed without being lifted.
func SummarizeNotices(notices []domain.FormalNotice, now time.Time) NoticeSummary {
	s := NoticeSummary{
		Count:    len(notices),
		ByStatut: map[string]int{},
		ByType:   map[string]int{},
		Notices:  make([]NoticeView, 0, len(notices)),
	}
	for _, n := range notices {
		v := NoticeView{FormalNotice: n, Echeance: n.Deadline()}
		s.ByStatut[n.Statut]++
		if n.Type != "" {
			s.ByType[string(n.Type)]++
		}
		if !NoticeResolved(n.Statut) {
			s.Pending++
			if now.After(v.Echeance) {
				v.Overdue = true
				s.Overdue++
			}
		}
		s.Notices = append(s.Notices, v)
	}
	sort.SliceStable(s.Notices, func(i, j int) bool { return s.Notices[i].DateEnvoi.After(s.Notices[j].DateEnvoi) })
	return s
}

// ValidateNoticeDelay applies the default compliance delay and checks bounds.
func ValidateNoticeDelay(days int) (int, error) {
	if days == 0 {
		return DefaultNoticeDelay, nil
	}
	if days < MinNoticeDelay || days > MaxNoticeDelay {
		return 0, fmt.Errorf("delai_conformite must be between %d and %d days", MinNoticeDelay, MaxNoticeDelay)
	}
	return days, nil
}

// NoticeReference builds the reference printed on a notice.
func NoticeReference(typ domain.NoticeType, operationID int64, at time.Time) string {
	return fmt.Sprintf("MED-%s-%d-%s", typ, operationID, at.Format("20060102"))
}
