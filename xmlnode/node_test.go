package xmlnode

import (
	"strings"
	"testing"
)

const productXML = `<product id="42">
  <merchant_product_id>SKU-1</merchant_product_id>
  <product_name><![CDATA[Polo & Co]]></product_name>
  <price currency="USD">12.00</price>
  <price currency="EUR">10.50</price>
  <sizes><size>S</size><size>M</size><size>L</size></sizes>
  <image url="http://img/1.jpg"/>
  <description></description>
</product>`

func mustParse(t *testing.T, s string) *Node {
	t.Helper()
	n, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return n
}

func TestParseTree(t *testing.T) {
	n := mustParse(t, productXML)
	if n.Name != "product" {
		t.Fatalf("expected root 'product', got %q", n.Name)
	}
	if id, ok := n.Attr("id"); !ok || id != "42" {
		t.Errorf("expected id=42, got %q (%v)", id, ok)
	}
	if len(n.Children) != 7 {
		t.Errorf("expected 7 children, got %d", len(n.Children))
	}
}

func TestFindText(t *testing.T) {
	n := mustParse(t, productXML)
	v, ok := n.Find(MustCompilePath("merchant_product_id"))
	if !ok || v != "SKU-1" {
		t.Errorf("expected SKU-1, got %q (%v)", v, ok)
	}
	v, _ = n.Find(MustCompilePath("product_name"))
	if v != "Polo & Co" {
		t.Errorf("expected CDATA text, got %q", v)
	}
}

func TestFindFirstMatch(t *testing.T) {
	n := mustParse(t, productXML)
	v, _ := n.Find(MustCompilePath("price"))
	if v != "12.00" {
		t.Errorf("expected first price 12.00, got %q", v)
	}
}

func TestFindPredicate(t *testing.T) {
	n := mustParse(t, productXML)
	v, ok := n.Find(MustCompilePath("price[@currency='EUR']"))
	if !ok || v != "10.50" {
		t.Errorf("expected 10.50, got %q (%v)", v, ok)
	}
}

func TestFindAttribute(t *testing.T) {
	n := mustParse(t, productXML)
	v, ok := n.Find(MustCompilePath("image/@url"))
	if !ok || v != "http://img/1.jpg" {
		t.Errorf("expected image url, got %q (%v)", v, ok)
	}
	v, ok = n.Find(MustCompilePath("@id"))
	if !ok || v != "42" {
		t.Errorf("expected own attribute 42, got %q (%v)", v, ok)
	}
}

func TestFindMissingAndEmpty(t *testing.T) {
	n := mustParse(t, productXML)
	if _, ok := n.Find(MustCompilePath("brand_name")); ok {
		t.Error("expected missing element not to be found")
	}
	v, ok := n.Find(MustCompilePath("description"))
	if !ok || v != "" {
		t.Errorf("expected empty element to resolve to \"\", got %q (%v)", v, ok)
	}
}

func TestFindAll(t *testing.T) {
	n := mustParse(t, productXML)
	got := n.FindAll(MustCompilePath("sizes/size"))
	if strings.Join(got, ",") != "S,M,L" {
		t.Errorf("expected S,M,L, got %v", got)
	}
}

func TestCompilePathErrors(t *testing.T) {
	for _, raw := range []string{"", "a//b", "a/@x/b", "a[@x='1'", "a[x]", "@"} {
		if _, err := CompilePath(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	n := mustParse(t, `<a k="v"><b>1 &lt; 2</b><c/></a>`)
	s := n.String()
	if s != `<a k="v"><b>1 &lt; 2</b><c/></a>` {
		t.Errorf("unexpected rendering %q", s)
	}
	again := mustParse(t, s)
	if v, _ := again.Find(MustCompilePath("b")); v != "1 < 2" {
		t.Errorf("expected text to survive round trip, got %q", v)
	}
}

func TestParseUnclosed(t *testing.T) {
	if _, err := ParseString("<a><b>x</b>"); err == nil {
		t.Error("expected error for unclosed element")
	}
}
