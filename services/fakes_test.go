package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/models"
	"github.com/Dosada05/arena/notify"
	"github.com/Dosada05/arena/pairing"
	"github.com/Dosada05/arena/repositories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDB is an in-memory stand-in for the postgres repositories. Set errs[name]
// to make the named method fail, e.g. errs["players.ListByTournament"].
type fakeDB struct {
	mu          sync.Mutex
	nextID      int
	seq         time.Time
	tournaments map[int]*models.Tournament
	players     map[int]map[int]*models.Player
	pairings    []*models.Pairing
	users       map[int]*models.User
	teams       map[int]*models.Team
	errs        map[string]error
	calls       map[string]int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		seq:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		tournaments: make(map[int]*models.Tournament),
		players:     make(map[int]map[int]*models.Player),
		users:       make(map[int]*models.User),
		teams:       make(map[int]*models.Team),
		errs:        make(map[string]error),
		calls:       make(map[string]int),
	}
}

// hit records a call and returns the injected error, if any. Callers hold mu.
func (db *fakeDB) hit(name string) error {
	db.calls[name]++
	return db.errs[name]
}

func (db *fakeDB) setErr(name string, err error) {
	db.mu.Lock()
	db.errs[name] = err
	db.mu.Unlock()
}

func (db *fakeDB) callCount(name string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[name]
}

func (db *fakeDB) tick() time.Time {
	db.seq = db.seq.Add(time.Second)
	return db.seq
}

// --- seeding helpers ---

func (db *fakeDB) addTournament(t *models.Tournament) *models.Tournament {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t.ID == 0 {
		db.nextID++
		t.ID = db.nextID
	}
	if t.Status == "" {
		t.Status = models.StatusCreated
	}
	cp := *t
	db.tournaments[t.ID] = &cp
	return t
}

func (db *fakeDB) addPlayer(p *models.Player) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.players[p.TournamentID] == nil {
		db.players[p.TournamentID] = make(map[int]*models.Player)
	}
	cp := *p
	cp.CreatedAt = db.tick()
	db.players[p.TournamentID][p.UserID] = &cp
}

func (db *fakeDB) addPairing(p *models.Pairing) *models.Pairing {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.GameID == "" {
		p.GameID = p.ID
	}
	if p.Status == "" {
		p.Status = models.PairingPlaying
	}
	cp := *p
	cp.CreatedAt = db.tick()
	db.pairings = append(db.pairings, &cp)
	return p
}

func (db *fakeDB) tournament(id int) *models.Tournament {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tournaments[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (db *fakeDB) player(tid, uid int) *models.Player {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.players[tid][uid]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (db *fakeDB) allPairings(tid int) []*models.Pairing {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Pairing
	for _, p := range db.pairings {
		if p.TournamentID == tid {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// --- tournaments ---

type fakeTournaments struct{ db *fakeDB }

var _ repositories.TournamentRepository = fakeTournaments{}

func (f fakeTournaments) Create(_ context.Context, t *models.Tournament) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.Create"); err != nil {
		return err
	}
	f.db.nextID++
	t.ID = f.db.nextID
	t.CreatedAt = f.db.tick()
	cp := *t
	f.db.tournaments[t.ID] = &cp
	return nil
}

func (f fakeTournaments) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.GetByID"); err != nil {
		return nil, err
	}
	t, ok := f.db.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	cp := *t
	return &cp, nil
}

func (f fakeTournaments) sorted(pred func(*models.Tournament) bool) []*models.Tournament {
	var out []*models.Tournament
	for _, t := range f.db.tournaments {
		if pred(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f fakeTournaments) List(_ context.Context, filter repositories.ListTournamentsFilter) ([]*models.Tournament, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.List"); err != nil {
		return nil, err
	}
	all := f.sorted(func(t *models.Tournament) bool {
		if filter.Status != nil && t.Status != *filter.Status {
			return false
		}
		return filter.CreatedBy == nil || t.CreatedBy == *filter.CreatedBy
	})
	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (f fakeTournaments) ListVisible(_ context.Context) ([]*models.Tournament, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.ListVisible"); err != nil {
		return nil, err
	}
	return f.sorted((*models.Tournament).IsEnterable), nil
}

func (f fakeTournaments) ListStarted(_ context.Context) ([]*models.Tournament, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.ListStarted"); err != nil {
		return nil, err
	}
	return f.sorted((*models.Tournament).IsStarted), nil
}

func (f fakeTournaments) ListDue(_ context.Context, now time.Time) ([]*models.Tournament, []*models.Tournament, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.ListDue"); err != nil {
		return nil, nil, err
	}
	toStart := f.sorted(func(t *models.Tournament) bool { return t.IsCreated() && !t.StartsAt.After(now) })
	toFinish := f.sorted(func(t *models.Tournament) bool { return t.IsStarted() && !t.FinishesAt().After(now) })
	return toStart, toFinish, nil
}

func (f fakeTournaments) mutate(name string, id int, fn func(t *models.Tournament)) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit(name); err != nil {
		return err
	}
	t, ok := f.db.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	fn(t)
	return nil
}

func (f fakeTournaments) Update(_ context.Context, in *models.Tournament) error {
	return f.mutate("tournaments.Update", in.ID, func(t *models.Tournament) {
		status, nb, featured, winner, tb := t.Status, t.NbPlayers, t.FeaturedGameID, t.WinnerID, t.TeamBattle
		*t = *in
		t.Status, t.NbPlayers, t.FeaturedGameID, t.WinnerID, t.TeamBattle = status, nb, featured, winner, tb
	})
}

func (f fakeTournaments) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.TournamentStatus) error {
	return f.mutate("tournaments.UpdateStatus", id, func(t *models.Tournament) { t.Status = status })
}

func (f fakeTournaments) SetFeaturedGame(_ context.Context, id int, gameID *string) error {
	return f.mutate("tournaments.SetFeaturedGame", id, func(t *models.Tournament) { t.FeaturedGameID = gameID })
}

func (f fakeTournaments) SetWinner(_ context.Context, _ repositories.SQLExecutor, id int, winnerID *int) error {
	return f.mutate("tournaments.SetWinner", id, func(t *models.Tournament) { t.WinnerID = winnerID })
}

func (f fakeTournaments) SetNbPlayers(_ context.Context, id int, nb int) error {
	return f.mutate("tournaments.SetNbPlayers", id, func(t *models.Tournament) { t.NbPlayers = nb })
}

func (f fakeTournaments) SetTeamBattle(_ context.Context, id int, tb *models.TeamBattle) error {
	return f.mutate("tournaments.SetTeamBattle", id, func(t *models.Tournament) { t.TeamBattle = tb })
}

func (f fakeTournaments) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("tournaments.Delete"); err != nil {
		return err
	}
	if _, ok := f.db.tournaments[id]; !ok {
		return repositories.ErrTournamentNotFound
	}
	delete(f.db.tournaments, id)
	return nil
}

// --- players ---

type fakePlayers struct{ db *fakeDB }

var _ repositories.PlayerRepository = fakePlayers{}

func (f fakePlayers) Insert(_ context.Context, p *models.Player) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.Insert"); err != nil {
		return err
	}
	if _, ok := f.db.tournaments[p.TournamentID]; !ok {
		return repositories.ErrPlayerTournamentInvalid
	}
	if _, ok := f.db.players[p.TournamentID][p.UserID]; ok {
		return repositories.ErrPlayerConflict
	}
	if f.db.players[p.TournamentID] == nil {
		f.db.players[p.TournamentID] = make(map[int]*models.Player)
	}
	p.CreatedAt = f.db.tick()
	cp := *p
	f.db.players[p.TournamentID][p.UserID] = &cp
	return nil
}

func (f fakePlayers) mutate(name string, tid, uid int, fn func(p *models.Player)) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit(name); err != nil {
		return err
	}
	p, ok := f.db.players[tid][uid]
	if !ok {
		return repositories.ErrPlayerNotFound
	}
	fn(p)
	return nil
}

func (f fakePlayers) Rejoin(_ context.Context, tid, uid, rating int, provisional bool) error {
	return f.mutate("players.Rejoin", tid, uid, func(p *models.Player) {
		p.Rating, p.Provisional, p.Withdrawn = rating, provisional, false
	})
}

func (f fakePlayers) Find(_ context.Context, tid, uid int) (*models.Player, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.Find"); err != nil {
		return nil, err
	}
	p, ok := f.db.players[tid][uid]
	if !ok {
		return nil, repositories.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePlayers) list(tid int, pred func(*models.Player) bool) []*models.Player {
	var out []*models.Player
	for _, p := range f.db.players[tid] {
		if pred(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	models.SortPlayers(out)
	return out
}

func (f fakePlayers) ListByTournament(_ context.Context, tid int) ([]*models.Player, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.ListByTournament"); err != nil {
		return nil, err
	}
	return f.list(tid, func(*models.Player) bool { return true }), nil
}

func (f fakePlayers) ListByTeam(_ context.Context, tid, teamID int) ([]*models.Player, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.ListByTeam"); err != nil {
		return nil, err
	}
	return f.list(tid, func(p *models.Player) bool { return p.TeamID != nil && *p.TeamID == teamID }), nil
}

func (f fakePlayers) Stream(ctx context.Context, tid int, fn func(*models.Player) error) error {
	all, err := f.ListByTournament(ctx, tid)
	if err != nil {
		return err
	}
	for _, p := range all {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f fakePlayers) Withdraw(_ context.Context, tid, uid int) error {
	return f.mutate("players.Withdraw", tid, uid, func(p *models.Player) { p.Withdrawn = true })
}

func (f fakePlayers) UnwithdrawAll(_ context.Context, _ repositories.SQLExecutor, tid int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.UnwithdrawAll"); err != nil {
		return err
	}
	for _, p := range f.db.players[tid] {
		p.Withdrawn = false
	}
	return nil
}

func (f fakePlayers) UpdateSheet(_ context.Context, tid, uid int, sheet repositories.PlayerSheet) error {
	return f.mutate("players.UpdateSheet", tid, uid, func(p *models.Player) {
		p.Score, p.Fire, p.Performance = sheet.Score, sheet.Fire, sheet.Performance
	})
}

func (f fakePlayers) Count(_ context.Context, tid int) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.Count"); err != nil {
		return 0, err
	}
	return len(f.db.players[tid]), nil
}

func (f fakePlayers) CountActive(_ context.Context, tid int) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.CountActive"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range f.db.players[tid] {
		if !p.Withdrawn {
			n++
		}
	}
	return n, nil
}

func (f fakePlayers) Delete(_ context.Context, tid, uid int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.Delete"); err != nil {
		return err
	}
	if _, ok := f.db.players[tid][uid]; !ok {
		return repositories.ErrPlayerNotFound
	}
	delete(f.db.players[tid], uid)
	return nil
}

func (f fakePlayers) DeleteByTournament(_ context.Context, _ repositories.SQLExecutor, tid int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("players.DeleteByTournament"); err != nil {
		return err
	}
	delete(f.db.players, tid)
	return nil
}

// --- pairings ---

type fakePairings struct{ db *fakeDB }

var _ repositories.PairingRepository = fakePairings{}

func (f fakePairings) InsertBatch(_ context.Context, tid int, batch []*models.Pairing) ([]*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.InsertBatch"); err != nil {
		return nil, err
	}
	if _, ok := f.db.tournaments[tid]; !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	busy := make(map[int]bool)
	for _, p := range f.db.pairings {
		if p.TournamentID == tid && p.IsPlaying() {
			busy[p.User1], busy[p.User2] = true, true
		}
	}
	var stored []*models.Pairing
	for _, p := range batch {
		if p.User1 == p.User2 || busy[p.User1] || busy[p.User2] {
			continue
		}
		busy[p.User1], busy[p.User2] = true, true
		cp := *p
		cp.TournamentID = tid
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.GameID == "" {
			cp.GameID = cp.ID
		}
		cp.Status = models.PairingPlaying
		cp.CreatedAt = f.db.tick()
		f.db.pairings = append(f.db.pairings, &cp)
		out := cp
		stored = append(stored, &out)
	}
	return stored, nil
}

func (f fakePairings) find(pred func(*models.Pairing) bool) *models.Pairing {
	for _, p := range f.db.pairings {
		if pred(p) {
			return p
		}
	}
	return nil
}

func (f fakePairings) GetByID(_ context.Context, id string) (*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.GetByID"); err != nil {
		return nil, err
	}
	p := f.find(func(p *models.Pairing) bool { return p.ID == id })
	if p == nil {
		return nil, repositories.ErrPairingNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePairings) GetByGameID(_ context.Context, gameID string) (*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.GetByGameID"); err != nil {
		return nil, err
	}
	p := f.find(func(p *models.Pairing) bool { return p.GameID == gameID })
	if p == nil {
		return nil, repositories.ErrPairingNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePairings) list(pred func(*models.Pairing) bool) []*models.Pairing {
	var out []*models.Pairing
	for _, p := range f.db.pairings {
		if pred(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (f fakePairings) ListPlaying(_ context.Context, tid int) ([]*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.ListPlaying"); err != nil {
		return nil, err
	}
	return f.list(func(p *models.Pairing) bool { return p.TournamentID == tid && p.IsPlaying() }), nil
}

func (f fakePairings) FindPlayingByUser(_ context.Context, tid, uid int) (*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.FindPlayingByUser"); err != nil {
		return nil, err
	}
	p := f.find(func(p *models.Pairing) bool { return p.TournamentID == tid && p.IsPlaying() && p.Contains(uid) })
	if p == nil {
		return nil, repositories.ErrPairingNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePairings) ListByUser(_ context.Context, tid, uid int) ([]*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.ListByUser"); err != nil {
		return nil, err
	}
	return f.list(func(p *models.Pairing) bool { return p.TournamentID == tid && p.Contains(uid) }), nil
}

func (f fakePairings) mutate(name, id string, fn func(p *models.Pairing) error) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit(name); err != nil {
		return err
	}
	p := f.find(func(p *models.Pairing) bool { return p.ID == id })
	if p == nil {
		return repositories.ErrPairingNotFound
	}
	return fn(p)
}

func (f fakePairings) SetGameID(_ context.Context, id, gameID string) error {
	return f.mutate("pairings.SetGameID", id, func(p *models.Pairing) error { p.GameID = gameID; return nil })
}

func (f fakePairings) Finish(_ context.Context, id string, winner *int, turns int) error {
	return f.mutate("pairings.Finish", id, func(p *models.Pairing) error {
		if !p.IsPlaying() {
			return repositories.ErrPairingNotPlaying
		}
		p.Status, p.Winner, p.Turns = models.PairingFinished, winner, turns
		return nil
	})
}

func (f fakePairings) SetBerserk(_ context.Context, id string, side models.Side) error {
	return f.mutate("pairings.SetBerserk", id, func(p *models.Pairing) error {
		if side == models.Side1 {
			p.Berserk1 = true
		} else {
			p.Berserk2 = true
		}
		return nil
	})
}

func (f fakePairings) Abort(_ context.Context, id string) error {
	return f.mutate("pairings.Abort", id, func(p *models.Pairing) error {
		if !p.IsPlaying() {
			return repositories.ErrPairingNotPlaying
		}
		p.Status = models.PairingAborted
		return nil
	})
}

func (f fakePairings) AbortAllPlaying(_ context.Context, _ repositories.SQLExecutor, tid int) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.AbortAllPlaying"); err != nil {
		return 0, err
	}
	var n int64
	for _, p := range f.db.pairings {
		if p.TournamentID == tid && p.IsPlaying() {
			p.Status = models.PairingAborted
			n++
		}
	}
	return n, nil
}

func (f fakePairings) ForfeitByUser(_ context.Context, tid, uid int, onlyPlaying bool) ([]*models.Pairing, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.ForfeitByUser"); err != nil {
		return nil, err
	}
	var out []*models.Pairing
	for _, p := range f.db.pairings {
		if p.TournamentID != tid || !p.Contains(uid) || p.Status == models.PairingAborted {
			continue
		}
		if onlyPlaying && !p.IsPlaying() {
			continue
		}
		opp := p.Opponent(uid)
		p.Status, p.Winner = models.PairingFinished, &opp
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakePairings) CountByTournament(_ context.Context, tid int) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.CountByTournament"); err != nil {
		return 0, err
	}
	return len(f.list(func(p *models.Pairing) bool { return p.TournamentID == tid })), nil
}

func (f fakePairings) DeleteByTournament(_ context.Context, _ repositories.SQLExecutor, tid int) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("pairings.DeleteByTournament"); err != nil {
		return err
	}
	kept := f.db.pairings[:0]
	for _, p := range f.db.pairings {
		if p.TournamentID != tid {
			kept = append(kept, p)
		}
	}
	f.db.pairings = kept
	return nil
}

// --- users and teams ---

type fakeUsers struct{ db *fakeDB }

var _ repositories.UserRepository = fakeUsers{}

func (f fakeUsers) Create(_ context.Context, u *models.User) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if u.ID == 0 {
		f.db.nextID++
		u.ID = f.db.nextID
	}
	cp := *u
	f.db.users[u.ID] = &cp
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id int) (*models.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeTeams struct{ db *fakeDB }

var _ repositories.TeamRepository = fakeTeams{}

func (f fakeTeams) Create(_ context.Context, team *models.Team) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if team.ID == 0 {
		f.db.nextID++
		team.ID = f.db.nextID
	}
	cp := *team
	f.db.teams[team.ID] = &cp
	return nil
}

func (f fakeTeams) GetByID(_ context.Context, id int) (*models.Team, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.teams[id]
	if !ok {
		return nil, repositories.ErrTeamNotFound
	}
	cp := *t
	return &cp, nil
}

func (f fakeTeams) IsMember(_ context.Context, teamID, userID int) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.hit("teams.IsMember"); err != nil {
		return false, err
	}
	u, ok := f.db.users[userID]
	return ok && u.TeamID != nil && *u.TeamID == teamID, nil
}

func (f fakeTeams) IsLeader(_ context.Context, teamID, userID int) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	t, ok := f.db.teams[teamID]
	return ok && t.CaptainID == userID, nil
}

// fakeTx runs the closure without an executor; the fakes ignore it.
type fakeTx struct{ db *fakeDB }

func (f fakeTx) WithinTx(_ context.Context, fn func(exec repositories.SQLExecutor) error) error {
	f.db.mu.Lock()
	err := f.db.hit("tx")
	f.db.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(nil)
}

// --- collaborators ---

type fakeGames struct {
	mu       sync.Mutex
	started  []string
	aborted  []string
	berserks []models.Side
	// startErr fails StartGame for pairings containing the user.
	startErr     map[int]error
	newGameID    func(p *models.Pairing) string
	berserkOK    bool
	berserkErr   error
	startBlocker chan struct{}
}

var _ GameService = (*fakeGames)(nil)

func newFakeGames() *fakeGames {
	return &fakeGames{startErr: make(map[int]error), berserkOK: true}
}

func (g *fakeGames) StartGame(_ context.Context, _ *models.Tournament, p *models.Pairing) (string, error) {
	if g.startBlocker != nil {
		<-g.startBlocker
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.startErr[p.User1]; err != nil {
		return "", err
	}
	if err := g.startErr[p.User2]; err != nil {
		return "", err
	}
	id := p.GameID
	if g.newGameID != nil {
		id = g.newGameID(p)
	}
	g.started = append(g.started, id)
	return id, nil
}

func (g *fakeGames) ForceAbort(_ context.Context, gameID string) error {
	g.mu.Lock()
	g.aborted = append(g.aborted, gameID)
	g.mu.Unlock()
	return nil
}

func (g *fakeGames) RequestBerserk(_ context.Context, _ string, side models.Side) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.berserkErr != nil {
		return false, g.berserkErr
	}
	g.berserks = append(g.berserks, side)
	return g.berserkOK, nil
}

func (g *fakeGames) startedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

type sentMessage struct {
	room string
	msg  notify.Message
}

type fakeBus struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (b *fakeBus) Publish(room string, msg notify.Message) {
	b.mu.Lock()
	b.sent = append(b.sent, sentMessage{room: room, msg: msg})
	b.mu.Unlock()
}

func (b *fakeBus) ofType(typ string) []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMessage
	for _, m := range b.sent {
		if m.msg.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	indexed map[int][]models.RankedPlayer
}

func (l *fakeLeaderboard) Index(_ context.Context, t *models.Tournament, standings []models.RankedPlayer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.indexed == nil {
		l.indexed = make(map[int][]models.RankedPlayer)
	}
	l.indexed[t.ID] = standings
	return nil
}

type award struct {
	userID int
	kind   TrophyKind
}

type fakeTrophies struct {
	mu            sync.Mutex
	awards        []award
	invalidations int
}

func (f *fakeTrophies) Award(_ context.Context, userID int, kind TrophyKind, _ *models.Tournament) error {
	f.mu.Lock()
	f.awards = append(f.awards, award{userID, kind})
	f.mu.Unlock()
	return nil
}

func (f *fakeTrophies) InvalidateWinners(context.Context) {
	f.mu.Lock()
	f.invalidations++
	f.mu.Unlock()
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived map[int]int
	removed  []int
}

func (a *fakeArchiver) Archive(_ context.Context, t *models.Tournament, standings []models.RankedPlayer) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		a.archived = make(map[int]int)
	}
	a.archived[t.ID] = len(standings)
	return "https://archive.test/" + t.Name, nil
}

func (a *fakeArchiver) Remove(_ context.Context, tournamentID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, tournamentID)
	return nil
}

// --- harness ---

// harness wires the orchestrator on fakes and a fake clock.
type harness struct {
	t           *testing.T
	db          *fakeDB
	clock       *clockwork.FakeClock
	cfg         config.Arena
	kv          *MemoryKV
	pool        *WaitingPool
	caches      StandingCaches
	sheets      *SheetUpdater
	publisher   *StandingPublisher
	action      *SerializedAction
	games       *fakeGames
	bus         *fakeBus
	pauses      *PauseTracker
	gate        *AccessGate
	scheduler   *PairingScheduler
	roster      *RosterManager
	flow        *GameFlow
	lifecycle   *LifecycleController
	tournaments *TournamentService
	jobs        *Jobs
	leaderboard *fakeLeaderboard
	trophies    *fakeTrophies
	archiver    *fakeArchiver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		db:          newFakeDB(),
		clock:       clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		cfg:         config.DefaultArena(),
		games:       newFakeGames(),
		bus:         &fakeBus{},
		leaderboard: &fakeLeaderboard{},
		trophies:    &fakeTrophies{},
		archiver:    &fakeArchiver{},
	}
	logger := discardLogger()
	tours := fakeTournaments{h.db}
	players := fakePlayers{h.db}
	pairings := fakePairings{h.db}

	h.kv = NewMemoryKV(h.clock)
	h.pool = NewWaitingPool(h.clock)
	ranking := NewRankingCache(players, h.clock, h.cfg.RankingTTL)
	h.caches = StandingCaches{Ranking: ranking, Top: NewTopNCache(ranking, h.cfg.TopSize, h.clock, h.cfg.TopTTL)}
	h.sheets = NewSheetUpdater(players, pairings, ranking)
	h.publisher = NewStandingPublisher(tours, h.caches.Top, h.kv, h.bus, h.clock,
		h.cfg.GlobalWindow, h.cfg.StandingWindow, h.cfg.StandingHashTTL, logger)
	h.action = NewSerializedAction(tours, h.clock, h.cfg.LargeTournament, logger)
	h.pauses = NewPauseTracker(h.kv, h.cfg.PauseBaseDelay, h.cfg.PauseMaxDelay, logger)
	h.gate = NewAccessGate(RatingConditionVerifier{}, h.pauses)
	h.scheduler = NewPairingScheduler(pairing.NewRankWindowGenerator(), pairings, tours, h.games, h.bus,
		h.pool, ranking, h.publisher, h.kv, h.clock, h.cfg, logger)
	h.roster = NewRosterManager(tours, players, pairings, h.gate, fakeTeams{h.db}, h.games, h.pauses,
		h.pool, h.caches, h.sheets, h.publisher, h.action, h.clock, h.cfg, logger)
	h.flow = NewGameFlow(players, pairings, h.games, h.pool, h.caches, h.sheets, h.publisher, h.action, logger)
	h.lifecycle = NewLifecycleController(LifecycleDeps{
		Tx:          fakeTx{h.db},
		Tournaments: tours,
		Players:     players,
		Pairings:    pairings,
		Pool:        h.pool,
		Caches:      h.caches,
		Sheets:      h.sheets,
		Publisher:   h.publisher,
		Action:      h.action,
		KV:          h.kv,
		Leaderboard: h.leaderboard,
		Trophies:    h.trophies,
		Archiver:    h.archiver,
		Bus:         h.bus,
		Forget:      []Forgetter{h.scheduler, h.roster},
	}, h.cfg, logger)
	h.tournaments = NewTournamentService(tours, players, fakeUsers{h.db}, fakeTeams{h.db},
		RatingConditionVerifier{}, h.caches, h.publisher, h.cfg, logger)
	h.jobs = NewJobs(tours, players, h.pool, h.scheduler, h.lifecycle, h.roster, h.action, h.clock, h.cfg, logger)

	t.Cleanup(func() {
		h.publisher.Stop()
		h.scheduler.Wait()
		h.lifecycle.Wait()
	})
	return h
}

func (h *harness) startedTournament(nbPlayers int) *models.Tournament {
	t := h.db.addTournament(&models.Tournament{
		Name:       "Hourly Blitz",
		Status:     models.StatusStarted,
		StartsAt:   h.clock.Now().Add(-time.Minute),
		Minutes:    60,
		ClockLimit: 180,
		Streakable: true,
	})
	for i := 1; i <= nbPlayers; i++ {
		h.db.addPlayer(&models.Player{TournamentID: t.ID, UserID: 100 + i, Username: "p", Rating: 2000 - 10*i})
	}
	return t
}

func (h *harness) joiner(id int) *models.Joiner {
	return &models.Joiner{ID: id, Username: "user", Rating: 1500, NbRatedGames: 50}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
