package workload

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// DefaultSourceCount and DefaultSourcePackage are the gen command defaults.
const (
	DefaultSourceCount   = 1000
	DefaultSourcePackage = "com.example.bench"
)

// ErrInvalidSourceConfig is returned for a SourceConfig that cannot be
// generated.
var ErrInvalidSourceConfig = errors.New("invalid source config")

// SourceConfig controls generation of a Java compile-load benchmark: Count
// cross-referencing classes plus an interface, an abstract base and a Main
// that loads a sample of them reflectively.
type SourceConfig struct {
	OutDir  string
	Count   int
	Package string
}

// Validate checks the config.
func (c SourceConfig) Validate() error {
	if c.OutDir == "" {
		return fmt.Errorf("%w: output directory is required",
			ErrInvalidSourceConfig)
	}

	if c.Count < 1 {
		return fmt.Errorf("%w: count must be positive, got %d",
			ErrInvalidSourceConfig, c.Count)
	}

	if c.Package == "" {
		return fmt.Errorf("%w: package is required", ErrInvalidSourceConfig)
	}

	for _, part := range strings.Split(c.Package, ".") {
		if part == "" {
			return fmt.Errorf("%w: malformed package %q",
				ErrInvalidSourceConfig, c.Package)
		}
	}

	return nil
}

// SourceSummary describes what Generate wrote.
type SourceSummary struct {
	Dir        string
	Classes    int
	Implements int
	Extends    int
	Files      int
}

// Class names for the generated sources.
const (
	ifaceName    = "Iface0001"
	abstractName = "AbstractBase"
)

type classData struct {
	Package    string
	Index      int
	Name       string
	RefName    string
	Implements bool
	Extends    bool
}

type mainData struct {
	Package string
	Count   int
	Step    int
}

var (
	ifaceTmpl = template.Must(template.New("iface").Parse(`package {{.Package}};

public interface {{.Name}} {
    int ifaceMethod(int x);
}
`))

	abstractTmpl = template.Must(template.New("abstract").Parse(`package {{.Package}};

public abstract class {{.Name}} {
    protected int base;
    public {{.Name}}(int base) { this.base = base; }
    public int baseCompute(int x) { return x + base; }
}
`))

	classTmpl = template.Must(template.New("class").Parse(`package {{.Package}};

import java.util.*;
import java.util.concurrent.atomic.AtomicInteger;

{{if .Extends}}// Extends abstract base
{{end}}public class {{.Name}}{{if .Extends}} extends AbstractBase{{end}}{{if .Implements}} implements Iface0001{{end}} {

    private static final int CONST_{{.Index}} = {{.Index}};
    private int a{{.Index}} = CONST_{{.Index}};
    private String s{{.Index}} = "{{.Name}}";
    private List<Integer> list{{.Index}} = new ArrayList<>();

    public {{.Name}}() {
{{- if .Extends}}
        super({{.Index}});
{{- end}}
        for (int j = 0; j < 3; j++) list{{.Index}}.add(j + CONST_{{.Index}});
    }

    public int compute(int x) {
        int sum = x + a{{.Index}} + list{{.Index}}.size();
        for (Integer v : list{{.Index}}) sum += v;
        return sum;
    }

    public int link({{.RefName}} other) {
        return other.compute(CONST_{{.Index}}) + this.compute({{.Index}});
    }

    @Override
    public String toString() {
        return s{{.Index}} + "#" + a{{.Index}} + ":" + list{{.Index}};
    }
{{- if .Implements}}

    @Override
    public int ifaceMethod(int x) {
        return compute(x) ^ {{.Index}};
    }
{{- end}}
}
`))

	mainTmpl = template.Must(template.New("main").Parse(`package {{.Package}};

public class Main {
    public static void main(String[] args) {
        int n = {{.Count}};
        int acc = 0;
        for (int i = 1; i <= n; i += {{.Step}}) {
            try {
                Class<?> c = Class.forName("{{.Package}}.Class" + String.format("%04d", i));
                Object o = c.getDeclaredConstructor().newInstance();
                acc ^= c.getMethod("compute", int.class).invoke(o, i).hashCode();
            } catch (Throwable t) {
                t.printStackTrace();
            }
        }
        System.out.println("OK acc=" + acc);
    }
}
`))
)

// SourceGenerator writes deterministic benchmark sources from a
// SourceConfig.
type SourceGenerator struct {
	cfg SourceConfig
}

// NewSourceGenerator creates a SourceGenerator from the given config.
func NewSourceGenerator(cfg SourceConfig) *SourceGenerator {
	return &SourceGenerator{cfg: cfg}
}

// Dir returns the package directory the sources are written to.
func (g *SourceGenerator) Dir() string {
	parts := append([]string{g.cfg.OutDir},
		strings.Split(g.cfg.Package, ".")...)

	return filepath.Join(parts...)
}

// Generate writes every source file and returns a summary. The same
// config always produces byte-identical files.
func (g *SourceGenerator) Generate() (SourceSummary, error) {
	if err := g.cfg.Validate(); err != nil {
		return SourceSummary{}, err
	}

	summary := SourceSummary{Dir: g.Dir()}

	if err := os.MkdirAll(summary.Dir, 0o755); err != nil {
		return summary, fmt.Errorf("create source dir %s: %w",
			summary.Dir, err)
	}

	named := struct{ Package, Name string }{Package: g.cfg.Package}

	named.Name = ifaceName
	if err := g.write(&summary, ifaceName, ifaceTmpl, named); err != nil {
		return summary, err
	}

	named.Name = abstractName
	if err := g.write(&summary, abstractName, abstractTmpl, named); err != nil {
		return summary, err
	}

	for i := 1; i <= g.cfg.Count; i++ {
		data := g.class(i)

		if err := g.write(&summary, data.Name, classTmpl, data); err != nil {
			return summary, err
		}

		summary.Classes++

		if data.Implements {
			summary.Implements++
		}

		if data.Extends {
			summary.Extends++
		}
	}

	entry := mainData{
		Package: g.cfg.Package,
		Count:   g.cfg.Count,
		Step:    max(1, g.cfg.Count/50),
	}
	if err := g.write(&summary, "Main", mainTmpl, entry); err != nil {
		return summary, err
	}

	return summary, nil
}

// class describes the i-th generated class. Every 5th class implements
// the interface, every 7th extends the abstract base, and each class links
// to its predecessor, with the first wrapping around to the last.
func (g *SourceGenerator) class(i int) classData {
	ref := i - 1
	if i == 1 {
		ref = g.cfg.Count
	}

	return classData{
		Package:    g.cfg.Package,
		Index:      i,
		Name:       className(i),
		RefName:    className(ref),
		Implements: i%5 == 0,
		Extends:    i%7 == 0,
	}
}

func (g *SourceGenerator) write(
	summary *SourceSummary,
	name string,
	tmpl *template.Template,
	data any,
) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	path := filepath.Join(summary.Dir, name+".java")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	summary.Files++

	return nil
}

func className(i int) string {
	return fmt.Sprintf("Class%04d", i)
}
