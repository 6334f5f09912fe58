package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eigerco/kvdown/pkg/asyncdb"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func keyParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "key"))
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, v)
	}
	return b, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	asBuffer, err := boolParam(r.URL.Query(), "asBuffer", false)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	type result struct {
		value []byte
		err   error
	}
	res, err := await(r.Context(), s.loop, func(done func(result)) {
		s.db.Get([]byte(key), asyncdb.ReadOptions{AsString: !asBuffer}, func(value []byte, err error) {
			done(result{value, err})
		})
	})
	if err == nil {
		err = res.err
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	value := string(res.value)
	if asBuffer {
		value = base64.StdEncoding.EncodeToString(res.value)
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(key, value))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	sync, err := boolParam(r.URL.Query(), "sync", false)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if value == nil {
		value = []byte{}
	}

	err = awaitErr(r.Context(), s.loop, func(done func(error)) {
		s.db.Put([]byte(key), value, asyncdb.WriteOptions{Sync: sync}, done)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	sync, err := boolParam(r.URL.Query(), "sync", false)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	err = awaitErr(r.Context(), s.loop, func(done func(error)) {
		s.db.Delete([]byte(key), asyncdb.WriteOptions{Sync: sync}, done)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body []BatchOp
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	sync, err := boolParam(r.URL.Query(), "sync", false)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	ops := make([]asyncdb.Op, 0, len(body))
	for _, op := range body {
		o := asyncdb.Op{Key: []byte(op.Key)}
		switch op.Type {
		case asyncdb.OpPut.String():
			o.Type = asyncdb.OpPut
			if op.Value != nil {
				o.Value = []byte(*op.Value)
			}
		case asyncdb.OpDel.String():
			o.Type = asyncdb.OpDel
		}
		ops = append(ops, o)
	}

	err = awaitErr(r.Context(), s.loop, func(done func(error)) {
		s.db.Batch(ops, asyncdb.WriteOptions{Sync: sync}, done)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func rangeOptions(q url.Values) (asyncdb.IteratorOptions, error) {
	opts := asyncdb.IteratorOptions{
		Start: []byte(q.Get("start")),
		End:   []byte(q.Get("end")),
		Lt:    []byte(q.Get("lt")),
		Lte:   []byte(q.Get("lte")),
		Gt:    []byte(q.Get("gt")),
		Gte:   []byte(q.Get("gte")),
	}

	var err error
	if opts.Reverse, err = boolParam(q, "reverse", false); err != nil {
		return opts, err
	}
	keys, err := boolParam(q, "keys", true)
	if err != nil {
		return opts, err
	}
	values, err := boolParam(q, "values", true)
	if err != nil {
		return opts, err
	}
	opts.OmitKeys, opts.OmitValues = !keys, !values

	if v := q.Get("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("invalid limit: %q", v)
		}
	}
	return opts, nil
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	opts, err := rangeOptions(r.URL.Query())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	ctx := r.Context()
	var it *asyncdb.Iterator
	if doErr := s.loop.Do(ctx, func() { it, err = s.db.NewIterator(opts) }); doErr != nil {
		err = doErr
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.loop.Post(func() {
		it.End(func(err error) {
			if err != nil && !errors.Is(err, asyncdb.ErrAlreadyEnded) {
				s.log.Warn().Err(err).Msg("ending range iterator")
			}
		})
	})

	type result struct {
		entries []asyncdb.Entry
		err     error
	}
	list := []RangeEntry{}
	for {
		res, err := await(ctx, s.loop, func(done func(result)) {
			it.NextBatch(func(entries []asyncdb.Entry, err error) { done(result{entries, err}) })
		})
		if err == nil {
			err = res.err
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		if len(res.entries) == 0 {
			break
		}
		for _, e := range res.entries {
			var entry RangeEntry
			if !opts.OmitKeys {
				k := string(e.Key)
				entry.Key = &k
			}
			if !opts.OmitValues {
				v := string(e.Value)
				entry.Value = &v
			}
			list = append(list, entry)
		}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	type result struct {
		size uint64
		err  error
	}
	res, err := await(r.Context(), s.loop, func(done func(result)) {
		s.db.ApproximateSize([]byte(q.Get("start")), []byte(q.Get("end")), func(size uint64, err error) {
			done(result{size, err})
		})
	})
	if err == nil {
		err = res.err
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SizeResponse{Size: res.size})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req BackupRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	path, err := backupPath(s.opts.BackupDir, req.Path)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	err = awaitErr(r.Context(), s.loop, func(done func(error)) {
		s.db.Backup(path, done)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("path", path).Msg("backup written")
	s.writeJSON(w, http.StatusOK, BackupResponse{Path: path})
}

var (
	errBackupsDisabled = errors.New("backups are disabled: no backup directory configured")
	errBackupOutside   = errors.New("backup path must be inside the backup directory")
)

// backupPath resolves a requested backup path under dir. An empty request
// gets a fresh name; relative requests are taken from dir.
func backupPath(dir, requested string) (string, error) {
	if dir == "" {
		return "", errBackupsDisabled
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving backup directory: %w", err)
	}
	if requested == "" {
		return filepath.Join(root, uuid.NewString()), nil
	}

	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errBackupOutside, requested)
	}
	return path, nil
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var value string
	if err := s.loop.Do(r.Context(), func() { value = s.db.GetProperty(name) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PropertyResponse{Name: name, Value: value})
}
