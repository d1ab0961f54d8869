package store_test

import (
	"context"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/statetrail/core/db"
	"basegraph.app/statetrail/internal/model"
	"basegraph.app/statetrail/internal/store"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newIssue(identifier, state string, at time.Time) model.NewIssue {
	return model.NewIssue{
		ID:         "id-" + identifier,
		Identifier: identifier,
		TeamID:     "team-1",
		TeamName:   "Platform",
		Title:      "Title " + identifier,
		StateName:  state,
		CreatedAt:  at,
	}
}

func update(identifier, state string, at time.Time) model.StateUpdate {
	return model.StateUpdate{
		Identifier: identifier,
		StateName:  state,
		Title:      "Updated " + identifier,
		UpdatedAt:  at,
		Issue:      newIssue(identifier, state, time.Time{}),
	}
}

func issueStoreBehaviour(newStore func() store.IssueStore) {
	var (
		ctx context.Context
		s   store.IssueStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore()
	})

	Describe("CreateIssue", func() {
		It("stores exactly the initial state", func() {
			change, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeCreated))
			Expect(change.Transition).NotTo(BeNil())
			Expect(change.Transition.FromState).To(BeEmpty())
			Expect(change.Transition.ToState).To(Equal("Todo"))

			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.CurrentState).To(Equal("Todo"))
			Expect(rec.StateHistory).To(HaveLen(1))
			Expect(rec.StateHistory["Todo"]).To(BeTemporally("==", t0))
			Expect(rec.LastUpdated).To(BeTemporally("==", t0))
			Expect(rec.CreatedAt).To(BeTemporally("==", t0))
			Expect(rec.TeamName).To(Equal("Platform"))
		})

		It("is idempotent and leaves the first record untouched", func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())

			again := newIssue("ENG-1", "Backlog", t0.Add(time.Hour))
			again.ID = "id-other"
			change, err := s.CreateIssue(ctx, again)
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeAlreadyExists))
			Expect(change.Transition).To(BeNil())

			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ID).To(Equal("id-ENG-1"))
			Expect(rec.CurrentState).To(Equal("Todo"))
			Expect(rec.StateHistory).To(HaveLen(1))

			all, err := s.ListAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("issue ids", func() {
		It("rejects a create whose id is stored under another identifier", func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())

			moved := newIssue("OPS-5", "Todo", t0.Add(time.Hour))
			moved.ID = "id-ENG-1"
			_, err = s.CreateIssue(ctx, moved)
			Expect(err).To(MatchError(store.ErrIDConflict))

			_, err = s.GetByIdentifier(ctx, "OPS-5")
			Expect(err).To(MatchError(store.ErrNotFound))
			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.CurrentState).To(Equal("Todo"))
		})

		It("rejects a fallback create whose id is taken without retrying into a conflict", func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())

			u := update("OPS-7", "Done", t0.Add(time.Hour))
			u.Issue.ID = "id-ENG-1"
			_, err = s.UpdateState(ctx, u)
			Expect(err).To(MatchError(store.ErrIDConflict))
			Expect(err).NotTo(MatchError(store.ErrConcurrentUpdate))

			_, err = s.GetByIdentifier(ctx, "OPS-7")
			Expect(err).To(MatchError(store.ErrNotFound))
			log, err := s.ListTransitions(ctx, "OPS-7")
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(BeEmpty())
		})

		It("still reports already_exists when the same issue is sent twice", func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())

			change, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeAlreadyExists))
		})
	})

	Describe("UpdateState", func() {
		BeforeEach(func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())
		})

		It("records the new state and advances lastUpdated", func() {
			at := t0.Add(2 * time.Hour)
			change, err := s.UpdateState(ctx, update("ENG-1", "In Progress", at))
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeUpdated))
			Expect(change.Transition.FromState).To(Equal("Todo"))
			Expect(change.Transition.ToState).To(Equal("In Progress"))

			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.CurrentState).To(Equal("In Progress"))
			Expect(rec.Title).To(Equal("Updated ENG-1"))
			Expect(rec.LastUpdated).To(BeTemporally("==", at))
			Expect(rec.StateHistory).To(HaveKeyWithValue("Todo", BeTemporally("==", t0)))
			Expect(rec.StateHistory).To(HaveKeyWithValue("In Progress", BeTemporally("==", at)))
		})

		It("does not write when the state is unchanged", func() {
			change, err := s.UpdateState(ctx, update("ENG-1", "Todo", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeUnchanged))

			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.LastUpdated).To(BeTemporally("==", t0))
			Expect(rec.StateHistory["Todo"]).To(BeTemporally("==", t0))
			Expect(rec.Title).To(Equal("Title ENG-1"))
		})

		It("overwrites the timestamp of a revisited state", func() {
			t1, t2 := t0.Add(time.Hour), t0.Add(3*time.Hour)
			_, err := s.UpdateState(ctx, update("ENG-1", "In Progress", t1))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpdateState(ctx, update("ENG-1", "Todo", t2))
			Expect(err).NotTo(HaveOccurred())

			rec, err := s.GetByIdentifier(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.StateHistory).To(HaveLen(2))
			Expect(rec.StateHistory["Todo"]).To(BeTemporally("==", t2))
		})

		It("keeps every visit in the transition log", func() {
			_, err := s.UpdateState(ctx, update("ENG-1", "In Progress", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpdateState(ctx, update("ENG-1", "Todo", t0.Add(2*time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpdateState(ctx, update("ENG-1", "Todo", t0.Add(3*time.Hour)))
			Expect(err).NotTo(HaveOccurred())

			log, err := s.ListTransitions(ctx, "ENG-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(HaveLen(3))
			Expect(log[0].Kind).To(Equal(model.TransitionKindCreated))
			Expect(log[1].FromState).To(Equal("Todo"))
			Expect(log[1].ToState).To(Equal("In Progress"))
			Expect(log[2].FromState).To(Equal("In Progress"))
			Expect(log[2].ToState).To(Equal("Todo"))
		})
	})

	Describe("fallback create", func() {
		It("creates a record holding only the updated state", func() {
			at := t0.Add(5 * time.Hour)
			change, err := s.UpdateState(ctx, update("ENG-9", "Done", at))
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Outcome).To(Equal(model.OutcomeFellBackToCreate))
			Expect(change.Transition.Kind).To(Equal(model.TransitionKindFellBackToCreate))

			rec, err := s.GetByIdentifier(ctx, "ENG-9")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.StateHistory).To(HaveLen(1))
			Expect(rec.StateHistory["Done"]).To(BeTemporally("==", at))
			Expect(rec.CurrentState).To(Equal("Done"))
			Expect(rec.LastUpdated).To(BeTemporally("==", at))
			Expect(rec.CreatedAt).To(BeTemporally("==", at))
		})

		It("differs from a create followed by an update", func() {
			_, err := s.CreateIssue(ctx, newIssue("ENG-A", "Todo", t0))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpdateState(ctx, update("ENG-A", "Done", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpdateState(ctx, update("ENG-B", "Done", t0.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())

			a, err := s.GetByIdentifier(ctx, "ENG-A")
			Expect(err).NotTo(HaveOccurred())
			b, err := s.GetByIdentifier(ctx, "ENG-B")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.StateHistory).To(HaveLen(2))
			Expect(b.StateHistory).To(HaveLen(1))
		})
	})

	Describe("reads", func() {
		BeforeEach(func() {
			for i, id := range []string{"ENG-1", "ENG-2", "ENG-3"} {
				_, err := s.CreateIssue(ctx, newIssue(id, "Todo", t0.Add(time.Duration(i)*time.Hour)))
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := s.UpdateState(ctx, update("ENG-1", "Done", t0.Add(10*time.Hour)))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns ErrNotFound for an unknown identifier", func() {
			_, err := s.GetByIdentifier(ctx, "NOPE-1")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("lists everything by lastUpdated descending", func() {
			all, err := s.ListAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(identifiers(all)).To(Equal([]string{"ENG-1", "ENG-3", "ENG-2"}))
		})

		It("filters by exact current state", func() {
			todo, err := s.ListByCurrentState(ctx, "Todo")
			Expect(err).NotTo(HaveOccurred())
			Expect(identifiers(todo)).To(Equal([]string{"ENG-3", "ENG-2"}))

			lower, err := s.ListByCurrentState(ctx, "todo")
			Expect(err).NotTo(HaveOccurred())
			Expect(lower).To(BeEmpty())

			padded, err := s.ListByCurrentState(ctx, "Todo ")
			Expect(err).NotTo(HaveOccurred())
			Expect(padded).To(BeEmpty())
		})

		It("does not trim or fold stored state names", func() {
			_, err := s.CreateIssue(ctx, newIssue("QA-1", "In Master", t0))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.CreateIssue(ctx, newIssue("QA-2", "In Master ", t0))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.CreateIssue(ctx, newIssue("QA-3", "Todo ", t0))
			Expect(err).NotTo(HaveOccurred())

			exact, err := s.ListByCurrentState(ctx, "In Master")
			Expect(err).NotTo(HaveOccurred())
			Expect(identifiers(exact)).To(Equal([]string{"QA-1"}))

			trailing, err := s.ListByCurrentState(ctx, "In Master ")
			Expect(err).NotTo(HaveOccurred())
			Expect(identifiers(trailing)).To(Equal([]string{"QA-2"}))

			todo, err := s.ListByCurrentState(ctx, "Todo")
			Expect(err).NotTo(HaveOccurred())
			Expect(identifiers(todo)).NotTo(ContainElement("QA-3"))

			folded, err := s.ListByCurrentState(ctx, "in master")
			Expect(err).NotTo(HaveOccurred())
			Expect(folded).To(BeEmpty())
		})

		It("returns an empty log for an unknown identifier", func() {
			log, err := s.ListTransitions(ctx, "NOPE-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(log).To(BeEmpty())
		})
	})

	It("serializes concurrent updates to one identifier", func() {
		_, err := s.CreateIssue(ctx, newIssue("ENG-1", "Todo", t0))
		Expect(err).NotTo(HaveOccurred())

		states := []string{"A", "B", "C", "D", "E", "F"}
		var wg sync.WaitGroup
		errs := make(chan error, len(states))
		for i, state := range states {
			wg.Add(1)
			go func(i int, state string) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := s.UpdateState(ctx, update("ENG-1", state, t0.Add(time.Duration(i+1)*time.Minute)))
				errs <- err
			}(i, state)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}

		rec, err := s.GetByIdentifier(ctx, "ENG-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.StateHistory).To(HaveLen(len(states) + 1))
		Expect(rec.StateHistory).To(HaveKey(rec.CurrentState))

		log, err := s.ListTransitions(ctx, "ENG-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(log).To(HaveLen(len(states) + 1))
	})
}

func identifiers(recs []model.IssueRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Identifier)
	}
	return out
}

var _ = Describe("MemoryStore", func() {
	issueStoreBehaviour(func() store.IssueStore { return store.NewMemoryStore() })
})

var _ = Describe("SQLiteStore", func() {
	issueStoreBehaviour(func() store.IssueStore {
		s, err := store.OpenSQLite(context.Background(), ":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		return s
	})
})

// Runs only against a disposable database: every spec truncates both tables.
var _ = Describe("PostgresStore", func() {
	issueStoreBehaviour(func() store.IssueStore {
		dsn := os.Getenv("STATETRAIL_TEST_DATABASE_URL")
		if dsn == "" {
			Skip("STATETRAIL_TEST_DATABASE_URL not set")
		}
		ctx := context.Background()
		database, err := db.New(ctx, db.Config{DSN: dsn, MaxConns: 8, MinConns: 1})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)
		Expect(database.Migrate(ctx)).To(Succeed())
		_, err = database.Pool().Exec(ctx, `TRUNCATE issues, issue_state_transitions`)
		Expect(err).NotTo(HaveOccurred())
		return store.NewPostgresStore(database)
	})
})
