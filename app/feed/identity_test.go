package feed

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDeriveID_FromLink(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		expected string
	}{
		{"id parameter", "https://www.boe.es/diario_boe/txt.php?id=BOE-B-2025-1234", "BOE-B-2025-1234"},
		{"idEvl parameter", "https://contrataciondelestado.es/wps/poc?idEvl=XyZ%3D%3D", "XyZ=="},
		{"placsp deeplink", "https://contrataciondelestado.es/wps/poc?uri=deeplink:detalle_licitacion&idEvl=AbC123%2BxYz%3D", "AbC123+xYz="},
		{"deeplink without idEvl", "https://contrataciondelestado.es/wps/poc?uri=deeplink:detalle_licitacion&ref=EXP-77", "EXP-77"},
		{"plain uri parameter", "https://example.org/n?uri=NOTICE-42", "NOTICE-42"},
		{"id wins over ref", "https://example.org/n?ref=R1&id=A7", "A7"},
		{"key ending in id", "https://example.org/n?lang=es&noticeId=778899", "778899"},
		{"path token with digit", "https://example.org/licitaciones/expediente/2025ABC123/detalle", "2025ABC123"},
		{"host is ignored", "https://portal2025.example.org/contratos/aviso-000123", "000123"},
		{"no token", "https://example.org/about", "https://example.org/about"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := DeriveID(test.link, "title", "summary"); result != test.expected {
				t.Errorf("Expected '%s', got '%s'", test.expected, result)
			}
		})
	}
}

func TestDeriveID_DistinctDeeplinks(t *testing.T) {
	base := "https://contrataciondelestado.es/wps/poc?uri=deeplink:detalle_licitacion&idEvl="
	evls := []string{"AAA111%2Bq%3D%3D", "BBB222%2Bq%3D%3D", "CCC333%2Bq%3D%3D"}

	seen := make(map[string]bool)
	for _, evl := range evls {
		id := DeriveID(base+evl, "Suministro", "")
		if strings.HasPrefix(id, "deeplink:") {
			t.Errorf("Expected notice id, got routing value '%s'", id)
		}
		seen[id] = true
	}

	if len(seen) != len(evls) {
		t.Errorf("Expected %d distinct ids, got %d", len(evls), len(seen))
	}
}

func TestDeriveID_TruncatesLongLinks(t *testing.T) {
	link := "https://example.org/" + strings.Repeat("a/", 100)

	result := DeriveID(link, "", "")
	if utf8.RuneCountInString(result) != MaxExternalIDLength {
		t.Errorf("Expected %d runes, got %d", MaxExternalIDLength, utf8.RuneCountInString(result))
	}
	if !strings.HasPrefix(link, result) {
		t.Errorf("Expected truncated link, got %s", result)
	}
}

func TestDeriveID_Synthetic(t *testing.T) {
	title := "Servicio de mantenimiento de la plataforma cloud del ayuntamiento"
	summary := "Contrato de servicios"

	first := DeriveID("", title, summary)
	second := DeriveID("  ", title, summary)

	if first == "" {
		t.Fatal("Expected non-empty synthetic id")
	}
	if first != second {
		t.Errorf("Expected deterministic id, got '%s' and '%s'", first, second)
	}
	if !strings.HasPrefix(first, title[:32]) {
		t.Errorf("Expected title prefix, got '%s'", first)
	}
	if utf8.RuneCountInString(first) > 32+8 {
		t.Errorf("Expected bounded id, got '%s'", first)
	}
	if other := DeriveID("", title, "Otro resumen"); other == first {
		t.Errorf("Expected different summary to change the id")
	}
	if empty := DeriveID("", "", ""); empty == "" {
		t.Errorf("Expected non-empty id for empty content")
	}
}

func TestDeriveID_Idempotent(t *testing.T) {
	inputs := [][3]string{
		{"https://www.boe.es/diario_boe/txt.php?id=BOE-B-2025-1", "a", "b"},
		{"https://example.org/x", "a", "b"},
		{"", "Título", "Resumen"},
	}
	for _, in := range inputs {
		if DeriveID(in[0], in[1], in[2]) != DeriveID(in[0], in[1], in[2]) {
			t.Errorf("Expected identical ids for %v", in)
		}
	}
}
