package chat

import (
	"log/slog"
	"testing"

	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/alexjbarnes/pychat-sync/internal/store"
)

const (
	testSession = "0042:abcd"
	myID        = int64(1)
	otherID     = int64(2)
	defaultIcon = "/favicon.ico"
)

// uploadCall captures one UploadFiles invocation so a test can complete
// it later, the way the event loop would.
type uploadCall struct {
	files      []models.UploadFile
	onComplete func(fileIDs []int64, err error)
	onProgress func(loaded, total int64)
}

type fakeUploader struct {
	calls []*uploadCall
}

func (f *fakeUploader) UploadFiles(files []models.UploadFile, onComplete func([]int64, error), onProgress func(int64, int64)) {
	f.calls = append(f.calls, &uploadCall{files: files, onComplete: onComplete, onProgress: onProgress})
}

func (f *fakeUploader) last(t *testing.T) *uploadCall {
	t.Helper()

	if len(f.calls) == 0 {
		t.Fatal("no upload was started")
	}

	return f.calls[len(f.calls)-1]
}

// testCore wires the core components over a real in-memory store holding
// the local user, one other user and rooms 1 and 5.
type testCore struct {
	store      *store.Store
	registry   *Registry
	reconciler *Reconciler
	uploader   *fakeUploader
	uploads    *Orchestrator
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()

	logger := slog.Default()
	st := store.New(logger)
	st.SetUserInfo(models.UserInfo{UserID: myID, Name: "me"})
	st.SetUsers(map[int64]models.User{
		myID:    {ID: myID, Name: "me"},
		otherID: {ID: otherID, Name: "bob"},
	})
	st.AddRoom(&models.Room{ID: 1, Name: "general", Users: []int64{myID, otherID}, Notifications: true, Volume: 80})
	st.AddRoom(&models.Room{ID: 5, Name: "quiet", Users: []int64{myID}})

	reg := NewRegistry(logger)
	up := &fakeUploader{}

	return &testCore{
		store:      st,
		registry:   reg,
		reconciler: NewReconciler(st, reg, defaultIcon, logger),
		uploader:   up,
		uploads:    NewOrchestrator(reg, st, up, logger),
	}
}

func strPtr(s string) *string { return &s }

// counter returns a callback and a pointer to how often it ran.
func counter() (func(), *int) {
	n := 0
	return func() { n++ }, &n
}
