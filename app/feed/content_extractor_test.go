package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const noticePage = `
<!DOCTYPE html>
<html>
<head>
	<title>Licitación plataforma de datos</title>
</head>
<body>
	<header>
		<h1>Portal de contratación</h1>
		<nav>Inicio | Licitaciones | Contacto</nav>
	</header>
	<main>
		<article>
			<h1>Servicio de plataforma de datos en la nube</h1>
			<p>El objeto del contrato es el suministro e implantación de una plataforma de datos en la nube para la gestión de expedientes de la consejería.</p>
			<p>La plataforma incluirá servicios de analítica, visualización y un lago de datos gestionado, con soporte durante tres años.</p>
			<p>Las ofertas se presentarán por medios electrónicos a través de la plataforma de contratación del sector público antes de la fecha indicada.</p>
		</article>
	</main>
	<footer>
		<p>Aviso legal</p>
	</footer>
</body>
</html>
`

func TestContentExtractor_Run_ValidHTML(t *testing.T) {
	extractor := NewContentExtractor(nil, "", 0)

	result, err := extractor.Run([]byte(noticePage), "https://contratos.example.org/notice/1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "plataforma de datos en la nube") {
		t.Errorf("Expected extracted content to contain notice text, got: %s", result)
	}

	if strings.Contains(result, "<p>") {
		t.Errorf("Expected plain text without markup, got: %s", result)
	}

	if strings.Contains(result, "  ") {
		t.Errorf("Expected collapsed whitespace, got: %q", result)
	}
}

func TestContentExtractor_Run_EmptyData(t *testing.T) {
	extractor := NewContentExtractor(nil, "", 0)

	for _, data := range [][]byte{nil, {}} {
		result, err := extractor.Run(data, "")
		if err == nil {
			t.Fatalf("Expected error for empty data")
		}
		if result != "" {
			t.Errorf("Expected empty result for empty data")
		}

		expectedError := "HTML data is empty"
		if err.Error() != expectedError {
			t.Errorf("Expected error message '%s', got '%s'", expectedError, err.Error())
		}
	}
}

func TestContentExtractor_Extract(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		if r.URL.Path != "/notice/1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(noticePage))
	}))
	defer server.Close()

	extractor := NewContentExtractor(server.Client(), "test-agent", 5*time.Second)

	result, err := extractor.Extract(context.Background(), server.URL+"/notice/1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(result, "lago de datos gestionado") {
		t.Errorf("Expected extracted body, got: %s", result)
	}
	if gotUserAgent != "test-agent" {
		t.Errorf("Expected User-Agent 'test-agent', got '%s'", gotUserAgent)
	}

	if _, err := extractor.Extract(context.Background(), server.URL+"/missing"); err == nil {
		t.Errorf("Expected error for missing page")
	}
}

func TestNewContentExtractor(t *testing.T) {
	extractor := NewContentExtractor(nil, "agent", 0)

	if extractor == nil {
		t.Fatal("Expected non-nil extractor")
	}
	if extractor.httpClient == nil {
		t.Errorf("Expected default HTTP client")
	}
	if extractor.timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, extractor.timeout)
	}
}
