package routes_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hashbbs/hashbbs/config"
	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/routes"
	"github.com/hashbbs/hashbbs/utils"
)

var testDBSeq atomic.Int64

func TestMain(m *testing.M) {
	// Run from the repository root so ./static resolves.
	if err := os.Chdir(".."); err != nil {
		panic(err)
	}

	dir, err := os.MkdirTemp("", "hashbbs-test-*")
	if err != nil {
		panic(err)
	}
	codesPath := filepath.Join(dir, "secret_codes.json")
	if err := os.WriteFile(codesPath, []byte(`{"moderator":"mod-code","admin":"admin-code"}`), 0o600); err != nil {
		panic(err)
	}

	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("SECRET_CODES_PATH", codesPath)
	os.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	os.Setenv("GIN_MODE", "test")
	os.Setenv("GIN_PATH", filepath.Join(dir, "gin.log"))
	os.Setenv("LOG_PATH", "")
	os.Setenv("RATE_LIMIT_PER_MINUTE", "100000")
	// Nothing listens on port 1: forces the in-memory fallbacks.
	os.Setenv("REDIS_HOST", "127.0.0.1")
	os.Setenv("REDIS_PORT", "1")

	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Post{}, &models.Comment{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func postForm(r http.Handler, path, token string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func register(t *testing.T, r http.Handler, username, password, role, code string) envelope {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	if role != "" {
		form.Set("role", role)
	}
	if code != "" {
		form.Set("secret_code", code)
	}
	return decode(t, postForm(r, "/register", "", form))
}

func login(t *testing.T, r http.Handler, username, password string) string {
	t.Helper()
	env := decode(t, postForm(r, "/login", "", url.Values{
		"username": {username},
		"password": {password},
	}))
	if !env.Success {
		t.Fatalf("login %s failed: %s", username, env.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login %s returned no token: %s", username, env.Data)
	}
	return data.Token
}

func createPost(t *testing.T, r http.Handler, token, title, content string) string {
	t.Helper()
	env := decode(t, postForm(r, "/create_post", token, url.Values{
		"title":   {title},
		"content": {content},
	}))
	if !env.Success {
		t.Fatalf("create post failed: %s", env.Message)
	}
	var data struct {
		PostHash string `json:"post_hash"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.PostHash == "" {
		t.Fatalf("create post returned no hash: %s", env.Data)
	}
	return data.PostHash
}

func TestRegisterDuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	if env := register(t, r, "alice", "s3cret", "", ""); !env.Success {
		t.Fatalf("first registration failed: %s", env.Message)
	}
	env := register(t, r, "alice", "other", "", "")
	if env.Success {
		t.Fatal("duplicate registration succeeded")
	}
	if env.Message != "username already exists" {
		t.Fatalf("unexpected message: %s", env.Message)
	}

	var count int64
	db.Model(&models.User{}).Where("username = ?", "alice").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 alice, got %d", count)
	}
}

func TestRegisterElevatedRoles(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	env := register(t, r, "mallory", "pw", "admin", "wrong-code")
	if env.Success {
		t.Fatal("registration with wrong secret code succeeded")
	}
	if env.Message != "invalid secret code" {
		t.Fatalf("unexpected message: %s", env.Message)
	}
	var count int64
	db.Model(&models.User{}).Where("username = ?", "mallory").Count(&count)
	if count != 0 {
		t.Fatal("wrong secret code still created a user record")
	}

	if env := register(t, r, "root", "pw", "admin", "admin-code"); !env.Success {
		t.Fatalf("admin registration with correct code failed: %s", env.Message)
	}
	if env := register(t, r, "mod", "pw", "moderator", "mod-code"); !env.Success {
		t.Fatalf("moderator registration with correct code failed: %s", env.Message)
	}

	var admin models.User
	if err := db.Where("username = ?", "root").First(&admin).Error; err != nil {
		t.Fatalf("admin not stored: %v", err)
	}
	if admin.Role != models.RoleAdmin {
		t.Fatalf("expected role admin, got %s", admin.Role)
	}
	if admin.PasswordHash == "pw" || admin.PasswordHash == "" {
		t.Fatal("password stored in plaintext or not at all")
	}
}

func TestPostHashUniqueness(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		hash := createPost(t, r, token, fmt.Sprintf("post %d", i), "body")
		if seen[hash] {
			t.Fatalf("post hash %s repeated", hash)
		}
		seen[hash] = true
	}
}

func TestDeletePostCascade(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	register(t, r, "mod", "pw", "moderator", "mod-code")
	alice := login(t, r, "alice", "pw")
	mod := login(t, r, "mod", "pw")

	doomed := createPost(t, r, alice, "doomed", "body")
	keeper := createPost(t, r, alice, "keeper", "body")

	for i := 0; i < 3; i++ {
		postForm(r, "/add_comment", alice, url.Values{"content": {"on doomed"}, "post_hash": {doomed}})
	}
	postForm(r, "/add_comment", alice, url.Values{"content": {"on keeper"}, "post_hash": {keeper}})

	env := decode(t, postForm(r, "/delete_post/"+doomed, mod, nil))
	if !env.Success {
		t.Fatalf("delete post failed: %s", env.Message)
	}

	var posts, doomedComments, keeperComments int64
	db.Model(&models.Post{}).Count(&posts)
	db.Model(&models.Comment{}).Where("post_hash = ?", doomed).Count(&doomedComments)
	db.Model(&models.Comment{}).Where("post_hash = ?", keeper).Count(&keeperComments)
	if posts != 1 {
		t.Fatalf("expected 1 remaining post, got %d", posts)
	}
	if doomedComments != 0 {
		t.Fatalf("comments on deleted post survived: %d", doomedComments)
	}
	if keeperComments != 1 {
		t.Fatalf("comments on other post affected: %d", keeperComments)
	}
}

func TestDeleteUserCascade(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "root", "pw", "admin", "admin-code")
	register(t, r, "victim", "pw", "", "")
	register(t, r, "bystander", "pw", "", "")
	admin := login(t, r, "root", "pw")
	victim := login(t, r, "victim", "pw")
	bystander := login(t, r, "bystander", "pw")

	victimPost := createPost(t, r, victim, "victim post", "body")
	bystanderPost := createPost(t, r, bystander, "bystander post", "body")
	postForm(r, "/add_comment", bystander, url.Values{"content": {"hi"}, "post_hash": {victimPost}})
	postForm(r, "/add_comment", victim, url.Values{"content": {"hello"}, "post_hash": {bystanderPost}})

	var victimUser models.User
	if err := db.Where("username = ?", "victim").First(&victimUser).Error; err != nil {
		t.Fatalf("victim missing: %v", err)
	}

	env := decode(t, postForm(r, fmt.Sprintf("/admin/delete_user/%d", victimUser.ID), admin, nil))
	if !env.Success {
		t.Fatalf("delete user failed: %s", env.Message)
	}

	var users, victimPosts, victimPostComments int64
	db.Model(&models.User{}).Where("username = ?", "victim").Count(&users)
	db.Model(&models.Post{}).Where("user_id = ?", victimUser.ID).Count(&victimPosts)
	db.Model(&models.Comment{}).Where("post_hash = ?", victimPost).Count(&victimPostComments)
	if users != 0 {
		t.Fatal("victim user survived deletion")
	}
	if victimPosts != 0 {
		t.Fatalf("victim posts survived: %d", victimPosts)
	}
	if victimPostComments != 0 {
		t.Fatalf("comments on victim posts survived: %d", victimPostComments)
	}

	var bystanderPosts int64
	db.Model(&models.Post{}).Where("post_hash = ?", bystanderPost).Count(&bystanderPosts)
	if bystanderPosts != 1 {
		t.Fatal("bystander post was deleted")
	}
}

func TestListOrderingNewestFirst(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")

	var alice models.User
	db.Where("username = ?", "alice").First(&alice)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var hash string
	for i := 0; i < 5; i++ {
		post := models.Post{
			UserID:    alice.ID,
			Title:     fmt.Sprintf("post %d", i),
			Content:   "body",
			PostHash:  uuid.NewString(),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&post).Error; err != nil {
			t.Fatalf("seed post: %v", err)
		}
		hash = post.PostHash
		db.Create(&models.Comment{
			PostID:    post.ID,
			UserID:    alice.ID,
			PostHash:  post.PostHash,
			Content:   fmt.Sprintf("comment %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	w := get(r, "/api/posts", token)
	env := decode(t, w)
	if !env.Success {
		t.Fatalf("list posts failed: %s", env.Message)
	}
	var posts []struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(env.Data, &posts); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if len(posts) != 5 {
		t.Fatalf("expected 5 posts, got %d", len(posts))
	}
	for i, p := range posts {
		want := fmt.Sprintf("post %d", 4-i)
		if p.Title != want {
			t.Fatalf("position %d: want %s, got %s", i, want, p.Title)
		}
	}

	cw := get(r, "/api/comments/"+hash, "")
	cenv := decode(t, cw)
	var comments []struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(cenv.Data, &comments); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment on last post, got %d", len(comments))
	}
}

func TestAnonymousCannotMutate(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	w := postForm(r, "/create_post", "", url.Values{"title": {"t"}, "content": {"c"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("create_post without session: status %d", w.Code)
	}
	w = postForm(r, "/add_comment", "", url.Values{"content": {"c"}, "post_hash": {"x"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("add_comment without session: status %d", w.Code)
	}
	w = get(r, "/api/user_stats", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("user_stats without session: status %d", w.Code)
	}

	var posts, comments int64
	db.Model(&models.Post{}).Count(&posts)
	db.Model(&models.Comment{}).Count(&comments)
	if posts != 0 || comments != 0 {
		t.Fatalf("anonymous request created records: %d posts, %d comments", posts, comments)
	}
}

func TestEndToEndUserFlow(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	if env := register(t, r, "alice", "pw", "user", ""); !env.Success {
		t.Fatalf("register failed: %s", env.Message)
	}
	token := login(t, r, "alice", "pw")

	hash := createPost(t, r, token, "hello world", "first post")

	w := get(r, "/post/"+hash, "")
	if w.Code != http.StatusOK {
		t.Fatalf("post page: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<html") {
		t.Fatal("post page did not render HTML")
	}

	cenv := decode(t, get(r, "/api/comments/"+hash, ""))
	if !cenv.Success {
		t.Fatalf("list comments failed: %s", cenv.Message)
	}
	var comments []json.RawMessage
	if err := json.Unmarshal(cenv.Data, &comments); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected empty comment list, got %d", len(comments))
	}

	// Unknown hash is a real 404 on the page route.
	if w := get(r, "/post/"+uuid.NewString(), ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown hash: status %d", w.Code)
	}
}

func TestAdminDeleteUserForbiddenForNonAdmin(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	register(t, r, "bob", "pw", "", "")
	alice := login(t, r, "alice", "pw")

	var bob models.User
	db.Where("username = ?", "bob").First(&bob)

	w := postForm(r, fmt.Sprintf("/admin/delete_user/%d", bob.ID), alice, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	var count int64
	db.Model(&models.User{}).Where("username = ?", "bob").Count(&count)
	if count != 1 {
		t.Fatal("target user was deleted by a non-admin")
	}
}

func TestEditPostRoleGate(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	register(t, r, "mod", "pw", "moderator", "mod-code")
	alice := login(t, r, "alice", "pw")
	mod := login(t, r, "mod", "pw")

	hash := createPost(t, r, alice, "original", "body")

	// The author themselves cannot edit: only moderator/admin may.
	w := postForm(r, "/edit_post/"+hash, alice, url.Values{"title": {"hacked"}, "content": {"x"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("author edit: expected 403, got %d", w.Code)
	}

	env := decode(t, postForm(r, "/edit_post/"+hash, mod, url.Values{
		"title":       {"edited"},
		"description": {"new desc"},
		"content":     {"new body"},
	}))
	if !env.Success {
		t.Fatalf("moderator edit failed: %s", env.Message)
	}

	var post models.Post
	db.Where("post_hash = ?", hash).First(&post)
	if post.Title != "edited" || post.Description != "new desc" || post.Content != "new body" {
		t.Fatalf("post not updated: %+v", post)
	}

	env = decode(t, postForm(r, "/edit_post/"+uuid.NewString(), mod, url.Values{"title": {"t"}, "content": {"c"}}))
	if env.Success {
		t.Fatal("editing unknown hash succeeded")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")

	if env := decode(t, postForm(r, "/logout", token, nil)); !env.Success {
		t.Fatalf("logout failed: %s", env.Message)
	}

	w := postForm(r, "/create_post", token, url.Values{"title": {"t"}, "content": {"c"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted: status %d", w.Code)
	}

	// Logging out without a session is still a success.
	if env := decode(t, postForm(r, "/logout", "", nil)); !env.Success {
		t.Fatal("logout without session returned failure")
	}
}

func TestCurrentUser(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	env := decode(t, get(r, "/api/user", ""))
	if !env.Success {
		t.Fatalf("anonymous /api/user failed: %s", env.Message)
	}
	if len(env.Data) != 0 && string(env.Data) != "null" {
		t.Fatalf("anonymous /api/user returned data: %s", env.Data)
	}

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")
	env = decode(t, get(r, "/api/user", token))
	var data struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if data.Username != "alice" || data.Role != models.RoleUser {
		t.Fatalf("unexpected user payload: %s", env.Data)
	}
}

func TestUserStats(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")
	createPost(t, r, token, "one", "body")
	createPost(t, r, token, "two", "body")

	env := decode(t, get(r, "/api/user_stats", token))
	if !env.Success {
		t.Fatalf("user stats failed: %s", env.Message)
	}
	var data struct {
		PostCount int64  `json:"post_count"`
		JoinDate  string `json:"join_date"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if data.PostCount != 2 {
		t.Fatalf("expected 2 posts, got %d", data.PostCount)
	}
	if data.JoinDate != time.Now().Format("2006-01-02") {
		t.Fatalf("unexpected join date %s", data.JoinDate)
	}
}

func uploadRequest(t *testing.T, token, filename string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", "with attachment")
	_ = mw.WriteField("content", "body")
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("attachment payload")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/create_post", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestCreatePostWithAttachment(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, token, "notes.txt"))
	env := decode(t, w)
	if !env.Success {
		t.Fatalf("create post with file failed: %s", env.Message)
	}

	var post models.Post
	if err := db.Order("id DESC").First(&post).Error; err != nil {
		t.Fatalf("post not stored: %v", err)
	}
	if post.FileName == "" {
		t.Fatal("no stored file name recorded")
	}
	if post.FileType != "txt" {
		t.Fatalf("expected file type txt, got %q", post.FileType)
	}
	stored := filepath.Join(config.Get().UploadDir, post.FileName)
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("attachment not on disk: %v", err)
	}

	// The stored file is served back under its server-assigned name.
	if w := get(r, "/uploads/"+post.FileName, ""); w.Code != http.StatusOK {
		t.Fatalf("serve upload: status %d", w.Code)
	}

	// Disallowed extension is stored anyway, just without a type tag.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, token, "tool.exe"))
	if env := decode(t, w); !env.Success {
		t.Fatalf("create post with unlisted extension failed: %s", env.Message)
	}
	var untyped models.Post
	if err := db.Order("id DESC").First(&untyped).Error; err != nil {
		t.Fatalf("post not stored: %v", err)
	}
	if untyped.FileName == "" {
		t.Fatal("unlisted extension file was not stored")
	}
	if untyped.FileType != "" {
		t.Fatalf("unlisted extension recorded a type: %q", untyped.FileType)
	}
}

func TestCommentOnUnknownPost(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")

	env := decode(t, postForm(r, "/add_comment", token, url.Values{
		"content":   {"hello"},
		"post_hash": {uuid.NewString()},
	}))
	if env.Success {
		t.Fatal("comment on unknown post succeeded")
	}
	if env.Message != "post not found" {
		t.Fatalf("unexpected message: %s", env.Message)
	}

	var count int64
	db.Model(&models.Comment{}).Count(&count)
	if count != 0 {
		t.Fatal("comment record created for unknown post")
	}
}

func TestCommentCarriesPostHash(t *testing.T) {
	db := newTestDB(t)
	r := routes.SetupRouter(db)

	register(t, r, "alice", "pw", "", "")
	token := login(t, r, "alice", "pw")
	hash := createPost(t, r, token, "post", "body")

	w := postForm(r, "/add_comment", token, url.Values{"content": {"hi"}, "post_hash": {hash}})
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect after comment, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/post/"+hash {
		t.Fatalf("unexpected redirect target %s", loc)
	}

	var comment models.Comment
	if err := db.First(&comment).Error; err != nil {
		t.Fatalf("comment not stored: %v", err)
	}
	var post models.Post
	db.Where("post_hash = ?", hash).First(&post)
	if comment.PostHash != post.PostHash || comment.PostID != post.ID {
		t.Fatalf("comment linkage wrong: %+v", comment)
	}
}
