package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"devforum/internal/models"
)

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,slug,name,description,position FROM categories ORDER BY position, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.Position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (models.Category, error) {
	var c models.Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id,slug,name,description,position FROM categories WHERE slug=?`, strings.ToLower(strings.TrimSpace(slug)),
	).Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.Position)
	if err == sql.ErrNoRows {
		return models.Category{}, ErrNotFound
	}
	return c, err
}

// CreatePost inserts a post and links its tags, creating unknown tags.
func (s *Store) CreatePost(ctx context.Context, authorID string, categoryID *string, title, body string, tags []string) (models.Post, error) {
	now := time.Now().UTC()
	p := models.Post{
		ID:         uuid.NewString(),
		AuthorID:   authorID,
		CategoryID: categoryID,
		Title:      title,
		Body:       body,
		Tags:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Post{}, err
	}
	defer tx.Rollback()

	var cat any
	if categoryID != nil {
		cat = *categoryID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts(id,author_id,category_id,title,body,created_at,updated_at) VALUES(?,?,?,?,?,?,?)`,
		p.ID, p.AuthorID, cat, p.Title, p.Body, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return models.Post{}, err
	}
	for _, name := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags(id,name) VALUES(?,?) ON CONFLICT(name) DO NOTHING`, uuid.NewString(), name,
		); err != nil {
			return models.Post{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_tags(post_id,tag_id) SELECT ?, id FROM tags WHERE name=? ON CONFLICT DO NOTHING`, p.ID, name,
		); err != nil {
			return models.Post{}, err
		}
		p.Tags = append(p.Tags, name)
	}
	if err := tx.Commit(); err != nil {
		return models.Post{}, err
	}
	return p, nil
}

const postSelect = `SELECT p.id,p.author_id,COALESCE(pr.name,''),p.category_id,p.title,p.body,p.created_at,p.updated_at,
	(SELECT COUNT(1) FROM comments c WHERE c.post_id=p.id)
	FROM posts p LEFT JOIN profiles pr ON pr.id=p.author_id`

func scanPost(row rowScanner) (models.Post, error) {
	var p models.Post
	var cat sql.NullString
	err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorName, &cat, &p.Title, &p.Body, &p.CreatedAt, &p.UpdatedAt, &p.CommentCount)
	if err == sql.ErrNoRows {
		return models.Post{}, ErrNotFound
	}
	if err != nil {
		return models.Post{}, err
	}
	if cat.Valid {
		v := cat.String
		p.CategoryID = &v
	}
	p.Tags = []string{}
	return p, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, postSelect+` WHERE p.id=?`, id))
	if err != nil {
		return models.Post{}, err
	}
	tags, err := s.postTags(ctx, p.ID)
	if err != nil {
		return models.Post{}, err
	}
	p.Tags = tags
	return p, nil
}

func (s *Store) ListPosts(ctx context.Context, q models.PostQuery) ([]models.Post, error) {
	where := []string{"1=1"}
	args := []any{}
	if q.Category != "" {
		where = append(where, "p.category_id=(SELECT id FROM categories WHERE slug=?)")
		args = append(args, q.Category)
	}
	if q.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM post_tags pt JOIN tags t ON t.id=pt.tag_id WHERE pt.post_id=p.id AND t.name=?)")
		args = append(args, q.Tag)
	}
	if q.Author != "" {
		where = append(where, "p.author_id=?")
		args = append(args, q.Author)
	}
	if v := strings.TrimSpace(q.Q); v != "" {
		where = append(where, "(p.title LIKE ? OR p.body LIKE ?)")
		like := "%" + v + "%"
		args = append(args, like, like)
	}
	rows, err := s.db.QueryContext(ctx,
		postSelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY p.created_at DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Post, 0, q.Limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		tags, err := s.postTags(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

func (s *Store) postTags(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM post_tags pt JOIN tags t ON t.id=pt.tag_id WHERE pt.post_id=? ORDER BY t.name`, postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context, limit int) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id,t.name,COUNT(pt.post_id) AS n FROM tags t LEFT JOIN post_tags pt ON pt.tag_id=t.id
		 GROUP BY t.id,t.name ORDER BY n DESC, t.name LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Posts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateComment(ctx context.Context, postID, authorID, body string) (models.Comment, error) {
	c := models.Comment{ID: uuid.NewString(), PostID: postID, AuthorID: authorID, Body: body, CreatedAt: time.Now().UTC()}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return models.Comment{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments(id,post_id,author_id,body,created_at) VALUES(?,?,?,?,?)`,
		c.ID, c.PostID, c.AuthorID, c.Body, c.CreatedAt,
	)
	return c, err
}

func (s *Store) GetComment(ctx context.Context, id string) (models.Comment, error) {
	var c models.Comment
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id,c.post_id,c.author_id,COALESCE(pr.name,''),c.body,c.created_at FROM comments c LEFT JOIN profiles pr ON pr.id=c.author_id WHERE c.id=?`, id,
	).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Comment{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListComments(ctx context.Context, postID string, limit, offset int) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id,c.post_id,c.author_id,COALESCE(pr.name,''),c.body,c.created_at
		 FROM comments c LEFT JOIN profiles pr ON pr.id=c.author_id
		 WHERE c.post_id=? ORDER BY c.created_at ASC LIMIT ? OFFSET ?`,
		postID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Comment, 0, limit)
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateQuestion(ctx context.Context, q models.InterviewQuestion) (models.InterviewQuestion, error) {
	q.ID = uuid.NewString()
	q.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interview_questions(id,author_id,company,role,question,answer,created_at) VALUES(?,?,?,?,?,?,?)`,
		q.ID, q.AuthorID, q.Company, q.Role, q.Question, q.Answer, q.CreatedAt,
	)
	return q, err
}

func (s *Store) GetQuestion(ctx context.Context, id string) (models.InterviewQuestion, error) {
	var q models.InterviewQuestion
	err := s.db.QueryRowContext(ctx,
		`SELECT id,author_id,company,role,question,answer,created_at FROM interview_questions WHERE id=?`, id,
	).Scan(&q.ID, &q.AuthorID, &q.Company, &q.Role, &q.Question, &q.Answer, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return models.InterviewQuestion{}, ErrNotFound
	}
	return q, err
}

func (s *Store) ListQuestions(ctx context.Context, q models.QuestionQuery) ([]models.InterviewQuestion, error) {
	where := []string{"1=1"}
	args := []any{}
	if q.Company != "" {
		where = append(where, "company=? COLLATE NOCASE")
		args = append(args, q.Company)
	}
	if v := strings.TrimSpace(q.Q); v != "" {
		where = append(where, "(question LIKE ? OR answer LIKE ? OR role LIKE ?)")
		like := "%" + v + "%"
		args = append(args, like, like, like)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,author_id,company,role,question,answer,created_at FROM interview_questions
		 WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.InterviewQuestion, 0, q.Limit)
	for rows.Next() {
		var iq models.InterviewQuestion
		if err := rows.Scan(&iq.ID, &iq.AuthorID, &iq.Company, &iq.Role, &iq.Question, &iq.Answer, &iq.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, iq)
	}
	return out, rows.Err()
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interview_questions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
