package batch

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"warren/internal/logs"
	"warren/internal/models"
	"warren/internal/provision"
	"warren/internal/registry"
	"warren/internal/repo"
)

var (
	ErrMalformedInput = errors.New("malformed batch input")
	ErrBatchTooLarge  = errors.New("batch too large")
)

// Обязательные колонки табличного ввода. Порядок в файле произвольный,
// лишние колонки игнорируются.
var requiredColumns = []string{"name", "ip", "allowed_ips", "dns", "keepalive"}

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
)

// Row — запись ledger'а: одна строка ввода, один исход.
type Row struct {
	Index    int     `json:"index"` // 1-based по строкам данных
	Name     string  `json:"name"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
	Address  string  `json:"address,omitempty"`
	Artifact string  `json:"artifact,omitempty"` // "sha256:<hex>" клиентского конфига
}

// Summary — агрегат прогона. Прогон, отклонивший все строки, сам по себе
// не ошибка: критерий успеха — ledger построен, эскалация за вызывающим.
type Summary struct {
	RunID    string `json:"run_id"`
	Tunnel   string `json:"tunnel"`
	Total    int    `json:"total"`
	Applied  int    `json:"applied"`
	Rejected int    `json:"rejected"`
	Ledger   []Row  `json:"ledger"`
}

// Provisioner прогоняет пакет заявок на peer'ы через ядро,
// строка за строкой, continue-on-error.
type Provisioner struct {
	svc      *provision.Service
	runs     *repo.BatchRunStore
	maxRows  int
	rowDelay time.Duration
}

func New(svc *provision.Service, runs *repo.BatchRunStore, maxRows int, rowDelay time.Duration) *Provisioner {
	return &Provisioner{svc: svc, runs: runs, maxRows: maxRows, rowDelay: rowDelay}
}

// rawRow — строка после чтения CSV, до разбора полей.
type rawRow struct {
	fields  []string
	readErr error
}

// Run применяет пакет к одному туннелю. Возвращает Summary всегда, когда
// пакет прошёл входной контроль; не-nil ошибка здесь — это либо отказ
// целиком (MalformedInput/BatchTooLarge/UnknownTunnel), либо фатальная
// ошибка окружения, оборвавшая прогон на середине.
func (p *Provisioner) Run(ctx context.Context, tunnel string, input io.Reader) (*Summary, error) {
	if _, err := p.svc.TunnelArtifact(tunnel); err != nil {
		if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrUnknownTunnel) {
			return nil, fmt.Errorf("%w: %q", registry.ErrUnknownTunnel, tunnel)
		}
		return nil, err
	}

	header, rows, err := p.read(input)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:  uuid.NewString(),
		Tunnel: tunnel,
		Total:  len(rows),
		Ledger: make([]Row, 0, len(rows)),
	}
	logs.Logger.Infof("batch %s: tunnel=%s rows=%d", sum.RunID, tunnel, len(rows))

	for i, raw := range rows {
		row, fatal := p.apply(ctx, tunnel, header, i+1, raw)
		sum.Ledger = append(sum.Ledger, row)
		if row.Outcome == OutcomeApplied {
			sum.Applied++
		} else {
			sum.Rejected++
		}

		// фатальная ошибка окружения — ретраи бессмысленны, обрываем прогон
		if fatal != nil {
			p.persist(ctx, sum)
			return sum, fatal
		}

		// пауза между строками: каждая строка может дёргать генерацию
		// ключей и системную активацию, без backpressure это шторм
		if i < len(rows)-1 && p.rowDelay > 0 {
			select {
			case <-ctx.Done():
				p.persist(ctx, sum)
				return sum, ctx.Err()
			case <-time.After(p.rowDelay):
			}
		}
	}

	logs.Logger.Infof("batch %s: total=%d applied=%d rejected=%d",
		sum.RunID, sum.Total, sum.Applied, sum.Rejected)
	p.persist(ctx, sum)
	return sum, nil
}

// read выполняет входной контроль пакета целиком: заголовок и лимит строк
// проверяются до обработки первой строки.
func (p *Provisioner) read(input io.Reader) (map[string]int, []rawRow, error) {
	r := csv.NewReader(input)
	r.Comment = '#'
	r.FieldsPerRecord = -1 // длину строк сверяем сами, по заголовку
	r.TrimLeadingSpace = true

	first, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty input, header row required", ErrMalformedInput)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrMalformedInput, err)
	}
	header := make(map[string]int, len(first))
	for i, col := range first {
		header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column %q", ErrMalformedInput, col)
		}
	}

	var rows []rawRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// структурный сбой строки — её исход, не исход пакета
			rows = append(rows, rawRow{readErr: err})
			continue
		}
		rows = append(rows, rawRow{fields: rec})
	}
	if len(rows) > p.maxRows {
		return nil, nil, fmt.Errorf("%w: %d rows, limit %d", ErrBatchTooLarge, len(rows), p.maxRows)
	}
	return header, rows, nil
}

// apply обрабатывает одну строку. Второе возвращаемое значение не nil
// только для фатальных ошибок окружения, обрывающих прогон.
func (p *Provisioner) apply(ctx context.Context, tunnel string, header map[string]int, index int, raw rawRow) (Row, error) {
	row := Row{Index: index, Outcome: OutcomeRejected}
	if raw.readErr != nil {
		row.Reason = "ParseError"
		return row, nil
	}

	field := func(col string) (string, bool) {
		i := header[col]
		if i >= len(raw.fields) {
			return "", false
		}
		return strings.TrimSpace(raw.fields[i]), true
	}

	name, ok1 := field("name")
	ip, ok2 := field("ip")
	allowed, ok3 := field("allowed_ips")
	dns, ok4 := field("dns")
	keepaliveRaw, ok5 := field("keepalive")
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		row.Reason = "ParseError"
		return row, nil
	}
	row.Name = name

	req := provision.PeerRequest{
		Tunnel:     tunnel,
		Name:       name,
		Address:    ip,
		AllowedIPs: splitEntries(allowed),
		DNS:        splitEntries(dns),
	}
	if keepaliveRaw != "" {
		ka, err := strconv.Atoi(keepaliveRaw)
		if err != nil {
			row.Reason = "ParseError"
			return row, nil
		}
		req.Keepalive = &ka
	}

	peer, artifact, err := p.svc.CreatePeer(ctx, req)
	if err != nil {
		row.Reason = provision.Reason(err)
		if provision.Fatal(err) {
			return row, err
		}
		return row, nil
	}

	sum := sha256.Sum256(artifact)
	row.Outcome = OutcomeApplied
	row.Address = peer.Address
	row.Artifact = "sha256:" + hex.EncodeToString(sum[:])
	return row, nil
}

// persist пишет итог прогона в БД (best-effort, аудит).
func (p *Provisioner) persist(ctx context.Context, sum *Summary) {
	if p.runs == nil {
		return
	}
	ledger, err := json.Marshal(sum.Ledger)
	if err != nil {
		logs.Logger.Errorf("batch %s: marshal ledger: %v", sum.RunID, err)
		return
	}
	run := &models.BatchRun{
		UUID:       sum.RunID,
		TunnelName: sum.Tunnel,
		Total:      sum.Total,
		Applied:    sum.Applied,
		Rejected:   sum.Rejected,
		Ledger:     ledger,
	}
	if err := p.runs.Save(ctx, run); err != nil {
		logs.Logger.Errorf("batch %s: save run: %v", sum.RunID, err)
	}
}

// `;` и `,` равнозначны как разделители многозначных полей.
func splitEntries(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil // пустое поле — дефолты конфигурации
	}
	return out
}
