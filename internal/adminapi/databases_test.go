package adminapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"controlplane/internal/store"
)

func TestHandleDeleteDatabaseReferenced(t *testing.T) {
	s := newTestServer(t)

	db := &store.Database{Name: "kb"}
	if err := s.store.CreateDatabase(db); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	bot := &store.Bot{Name: "b", Token: "t:1", DatabaseID: &db.ID}
	if err := s.store.CreateBot(bot); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/databases/"+strconv.Itoa(int(db.ID)), nil)
	c.Params = gin.Params{{Key: "id", Value: strconv.Itoa(int(db.ID))}}

	s.handleDeleteDatabase(c)

	// spec.md §7/§8: deleting a referenced database is a 400, not a 409.
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleDeleteDatabaseUnreferencedSucceeds(t *testing.T) {
	s := newTestServer(t)

	db := &store.Database{Name: "kb"}
	if err := s.store.CreateDatabase(db); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/databases/"+strconv.Itoa(int(db.ID)), nil)
	c.Params = gin.Params{{Key: "id", Value: strconv.Itoa(int(db.ID))}}

	s.handleDeleteDatabase(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleDeleteDatabaseBadID(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/databases/not-a-number", nil)
	c.Params = gin.Params{{Key: "id", Value: "not-a-number"}}

	s.handleDeleteDatabase(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
