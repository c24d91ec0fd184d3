package data

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/config"
	"go.viam.com/test"
)

func newTestDB(t *testing.T) (IService, string) {
	t.Helper()
	s := config.Defaults()
	s.DataFolder = filepath.Join(t.TempDir(), "ledger")
	return NewFilesDB(config.NewFromSettings(s)), s.DataFolder
}

func readEntities(t *testing.T, folder, name string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(folder, name+".json"))
	test.That(t, err, test.ShouldBeNil)
	var entities []map[string]interface{}
	test.That(t, json.Unmarshal(data, &entities), test.ShouldBeNil)
	return entities
}

func TestNewDeadLetterAppends(t *testing.T) {
	db, folder := newTestDB(t)

	test.That(t, db.NewDeadLetter(model.DeadLetter{MessageID: "m1", Reason: "unparseable body"}), test.ShouldBeNil)
	test.That(t, db.NewDeadLetter(model.DeadLetter{MessageID: "m2", RequestID: "r", ReceiveCount: 6, Reason: "max redeliveries exceeded"}), test.ShouldBeNil)

	letters := readEntities(t, folder, "dead-letters")
	test.That(t, letters, test.ShouldHaveLength, 2)
	test.That(t, letters[0]["messageId"], test.ShouldEqual, "m1")
	test.That(t, letters[1]["receiveCount"], test.ShouldEqual, 6.0)
	test.That(t, letters[1]["timestamp"], test.ShouldNotEqual, 0.0)
}

func TestNewErrorShapes(t *testing.T) {
	db, folder := newTestDB(t)

	test.That(t, db.NewError(model.GenError("recognizer", errors.New("boom"), map[string]interface{}{"worker": 1}, "worker %d failed", 1)), test.ShouldBeNil)
	test.That(t, db.NewError(errors.New("plain")), test.ShouldBeNil)

	errs := readEntities(t, folder, "errors")
	test.That(t, errs, test.ShouldHaveLength, 2)
	test.That(t, errs[0]["processor"], test.ShouldEqual, "recognizer")
	test.That(t, errs[0]["innerError"], test.ShouldEqual, "boom")
	test.That(t, errs[0]["message"], test.ShouldEqual, "worker 1 failed")
	test.That(t, errs[1]["processor"], test.ShouldEqual, "N/A")
	test.That(t, errs[1]["message"], test.ShouldEqual, "plain")
}

func TestStatsConcurrentWriters(t *testing.T) {
	db, folder := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			_ = db.NewRecognizerStats(model.RecognizerStats{Name: "recognizer", Worker: worker, Messages: worker})
		}(i)
	}
	wg.Wait()

	test.That(t, db.NewDetectorStats(model.DetectorStats{Requests: 3}), test.ShouldBeNil)

	test.That(t, readEntities(t, folder, "recognizer-stats"), test.ShouldHaveLength, 8)
	detector := readEntities(t, folder, "detector-stats")
	test.That(t, detector, test.ShouldHaveLength, 1)
	test.That(t, detector[0]["requests"], test.ShouldEqual, 3.0)
}
