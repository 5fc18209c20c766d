package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegistration_Panics は同じレジストリへの二重登録を検出することを検証する。
func TestNewCollector_DoubleRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

// TestObserveGrant_CountsByTypeAndOutcome はグラント種別と結果ごとに集計されることを検証する。
func TestObserveGrant_CountsByTypeAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveGrant("password", "success")
	c.ObserveGrant("password", "success")
	c.ObserveGrant("password", "rejected")
	c.ObserveGrant("refresh_token", "error")

	m := findMetric(t, reg, "authcare_grants_total", map[string]string{"grant_type": "password", "outcome": "success"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("password/success = %v, want 2", v)
	}
	m = findMetric(t, reg, "authcare_grants_total", map[string]string{"grant_type": "password", "outcome": "rejected"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("password/rejected = %v, want 1", v)
	}
	m = findMetric(t, reg, "authcare_grants_total", map[string]string{"grant_type": "refresh_token", "outcome": "error"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("refresh_token/error = %v, want 1", v)
	}
}

// TestObserveRefreshTokenReuse_IncrementsCounter はトークン再提示カウンタが増加することを検証する。
func TestObserveRefreshTokenReuse_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRefreshTokenReuse()

	m := findMetric(t, reg, "authcare_refresh_token_reuse_total", nil)
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("refresh_token_reuse_total = %v, want 1", v)
	}
}

// TestObserveLinkingDecision_CountsByDecision は紐付け判定ごとに集計されることを検証する。
func TestObserveLinkingDecision_CountsByDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveLinkingDecision("create_account")
	c.ObserveLinkingDecision("multiple_accounts")
	c.ObserveLinkingDecision("create_account")

	m := findMetric(t, reg, "authcare_linking_decisions_total", map[string]string{"decision": "create_account"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("create_account = %v, want 2", v)
	}
}

// TestObservePasswordWork_RecordsHistogram はパスワード処理時間がヒストグラムに記録されることを検証する。
func TestObservePasswordWork_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObservePasswordWork("verify", 30*time.Millisecond)
	c.ObservePasswordWork("verify", 2*time.Second)

	m := findMetric(t, reg, "authcare_password_work_seconds", map[string]string{"op": "verify"})
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 2.0 || sum > 2.1 {
		t.Errorf("sample sum = %v, want ~2.03", sum)
	}
}

// TestRecordCleanup_AddsDeletedRows はクリーンアップ件数が加算されることを検証する。
func TestRecordCleanup_AddsDeletedRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanup(5, 2)
	c.RecordCleanup(1, 0)
	c.RecordCleanupFailure()

	m := findMetric(t, reg, "authcare_cleanup_deleted_total", map[string]string{"table": "refresh_tokens"})
	if v := m.GetCounter().GetValue(); v != 6 {
		t.Errorf("refresh_tokens deleted = %v, want 6", v)
	}
	m = findMetric(t, reg, "authcare_cleanup_runs_total", map[string]string{"result": "success"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("successful runs = %v, want 2", v)
	}
	m = findMetric(t, reg, "authcare_cleanup_runs_total", map[string]string{"result": "failure"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("failed runs = %v, want 1", v)
	}
}
