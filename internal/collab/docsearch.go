package collab

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

const supplierDocsCollection = "supplier_docs"

// ChromemDocSearch performs semantic search over the supplier qualification
// corpus using an embedded chromem-go vector database.
type ChromemDocSearch struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemDocSearch opens (or creates) the vector store at path and makes
// sure the supplier corpus is loaded. An empty path keeps everything in
// memory, which is what tests use.
func NewChromemDocSearch(path string) (*ChromemDocSearch, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(supplierDocsCollection, nil, termVectorEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", supplierDocsCollection, err)
	}

	s := &ChromemDocSearch{db: db, collection: collection}
	if collection.Count() == 0 {
		if err := s.load(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ChromemDocSearch) load(ctx context.Context) error {
	docs := make([]chromem.Document, 0, len(supplierDocs))
	for _, d := range supplierDocs {
		docs = append(docs, chromem.Document{
			ID:      d.ID,
			Content: d.Content,
			Metadata: map[string]string{
				"supplier_id": d.SupplierID,
				"region":      d.Region,
				"tier":        d.Tier,
			},
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("load supplier docs: %w", err)
	}
	return nil
}

// Search returns the topK most similar supplier documents for the query.
func (s *ChromemDocSearch) Search(ctx context.Context, query string, topK int) ([]DocMatch, error) {
	if topK <= 0 {
		topK = 3
	}
	if max := s.collection.Count(); topK > max {
		topK = max
	}
	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, Unavailable("docsearch", err)
	}

	matches := make([]DocMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, DocMatch{
			SupplierID: r.Metadata["supplier_id"],
			Region:     r.Metadata["region"],
			Tier:       r.Metadata["tier"],
			Content:    r.Content,
			Similarity: float64(r.Similarity),
		})
	}
	return matches, nil
}

// termVectorEmbedding produces a normalized hashed bag-of-words vector. It
// runs fully offline; lexical overlap stands in for a learned embedding,
// which is enough for a corpus of a dozen supplier documents.
func termVectorEmbedding(ctx context.Context, text string) ([]float32, error) {
	const dims = 256
	vec := make([]float32, dims)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		term = strings.Trim(term, ".,;:()[]\"'")
		if len(term) < 3 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[h.Sum32()%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

type supplierDoc struct {
	ID         string
	SupplierID string
	Region     string
	Tier       string
	Content    string
}

var supplierDocs = []supplierDoc{
	{ID: "TPA-001", SupplierID: "TPA-001", Region: "Asia", Tier: "primary", Content: "Supplier: TechParts Asia (TPA-001). Location: Shenzhen, China. " +
		"Certifications: ISO 9001:2015, ISO 14001:2015, IATF 16949. " +
		"Products: Semiconductor chips (MCU-2200, MCU-3300), ceramic capacitors (CAP-100nF, CAP-220nF). " +
		"Lead time: 14-21 days standard, 7 days expedited. MOQ: 5000 units. " +
		"On-time delivery rate: 94%. Quality reject rate: 0.3%. " +
		"Annual capacity: 2M units. Payment terms: Net 30. " +
		"Risk notes: Single-source for MCU-2200 line. Located in typhoon-prone region."},
	{ID: "ECG-002", SupplierID: "ECG-002", Region: "Europe", Tier: "primary", Content: "Supplier: EuroComponents GmbH (ECG-002). Location: Munich, Germany. " +
		"Certifications: ISO 9001:2015, REACH compliant, RoHS compliant, AEO certified. " +
		"Products: Precision resistors (RES-10K, RES-47K), inductors (IND-100uH, IND-470uH). " +
		"Lead time: 7-10 days. MOQ: 1000 units. " +
		"On-time delivery rate: 98%. Quality reject rate: 0.1%. " +
		"Annual capacity: 5M units. Payment terms: Net 45. " +
		"Risk notes: Premium pricing but highest quality scores in portfolio."},
	{ID: "ALT-003", SupplierID: "ALT-003", Region: "Asia", Tier: "backup", Content: "Supplier: Pacific Semiconductor Corp (ALT-003). Location: Taipei, Taiwan. " +
		"Certifications: ISO 9001:2015, IATF 16949, ISO 45001. " +
		"Products: Semiconductor chips (MCU-2200 compatible, MCU-3300 compatible), microprocessors. " +
		"Lead time: 10-14 days. MOQ: 2000 units. " +
		"On-time delivery rate: 91%. Quality reject rate: 0.5%. " +
		"Annual capacity: 3M units. Payment terms: Net 30. " +
		"Risk notes: Qualified backup for TPA-001. Slightly higher reject rate but faster lead times."},
	{ID: "ALT-004", SupplierID: "ALT-004", Region: "Europe", Tier: "backup", Content: "Supplier: Nordic Electronics AB (ALT-004). Location: Stockholm, Sweden. " +
		"Certifications: ISO 9001:2015, ISO 14001:2015, REACH, RoHS, Conflict Minerals Free. " +
		"Products: Resistors (RES-10K compatible), capacitors (CAP-100nF compatible), connectors. " +
		"Lead time: 10-14 days. MOQ: 500 units. " +
		"On-time delivery rate: 96%. Quality reject rate: 0.15%. " +
		"Annual capacity: 4M units. Payment terms: Net 30. " +
		"Risk notes: Strong ESG credentials. Lower MOQ makes them ideal for urgent small orders."},
	{ID: "MFG-005", SupplierID: "MFG-005", Region: "North America", Tier: "specialty", Content: "Supplier: AmeriChip Manufacturing (MFG-005). Location: Austin, Texas, USA. " +
		"Certifications: ISO 9001:2015, ITAR compliant, AS9100D (aerospace grade). " +
		"Products: High-reliability MCU chips (MCU-2200-MIL, MCU-3300-MIL), custom ASICs. " +
		"Lead time: 21-28 days. MOQ: 1000 units. " +
		"On-time delivery rate: 97%. Quality reject rate: 0.05%. " +
		"Annual capacity: 500K units. Payment terms: Net 60. " +
		"Risk notes: Premium pricing (2x standard). Best for defense/aerospace applications."},
	{ID: "LOG-006", SupplierID: "LOG-006", Region: "Asia", Tier: "primary", Content: "Supplier: FastFreight Logistics (LOG-006). Location: Singapore. " +
		"Certifications: C-TPAT certified, AEO certified, GDP compliant. " +
		"Services: Air freight, ocean freight, customs brokerage, warehousing. " +
		"Coverage: Asia-Pacific to North America and Europe. " +
		"Transit times: Air 3-5 days, Ocean 18-25 days. " +
		"On-time delivery rate: 92%. " +
		"Risk notes: Primary logistics partner for Asian suppliers. " +
		"Expedite surcharge: 40% premium for next-day air freight."},
	{ID: "LOG-007", SupplierID: "LOG-007", Region: "Europe", Tier: "backup", Content: "Supplier: TransEuro Shipping (LOG-007). Location: Rotterdam, Netherlands. " +
		"Certifications: AEO certified, ISO 28000 (supply chain security). " +
		"Services: Ocean freight, rail freight, last-mile delivery, bonded warehousing. " +
		"Coverage: Europe to Asia and North America. " +
		"Transit times: Ocean 12-18 days, Rail 15-20 days. " +
		"On-time delivery rate: 95%. " +
		"Risk notes: Strong European network. Backup for Asian route disruptions via rail."},
	{ID: "RAW-008", SupplierID: "RAW-008", Region: "Asia", Tier: "primary", Content: "Supplier: SiliconPure Materials (RAW-008). Location: Busan, South Korea. " +
		"Certifications: ISO 9001:2015, SEMI standards compliant. " +
		"Products: Silicon wafers (200mm, 300mm), rare earth elements, semiconductor-grade chemicals. " +
		"Lead time: 30-45 days. MOQ: 100 wafers. " +
		"On-time delivery rate: 88%. Quality reject rate: 0.8%. " +
		"Annual capacity: 50K wafers. Payment terms: Net 30. " +
		"Risk notes: Long lead times. Geopolitical risk due to regional tensions. " +
		"Critical raw material supplier for MCU manufacturing."},
	{ID: "PCK-009", SupplierID: "PCK-009", Region: "Asia", Tier: "primary", Content: "Supplier: SafePack Industries (PCK-009). Location: Dongguan, China. " +
		"Certifications: ISO 9001:2015, ISTA 3A certified packaging. " +
		"Products: Anti-static packaging, ESD-safe trays, moisture barrier bags, custom foam inserts. " +
		"Lead time: 5-7 days. MOQ: 10,000 units. " +
		"On-time delivery rate: 96%. Quality reject rate: 0.2%. " +
		"Annual capacity: 20M units. Payment terms: Net 15. " +
		"Risk notes: Located near TPA-001. Regional disruptions may affect both suppliers simultaneously."},
	{ID: "QUA-010", SupplierID: "AUDIT-Q4", Region: "Global", Tier: "report", Content: "Supplier Quality Audit Summary - Q4 2024. " +
		"TPA-001: PASSED with minor observations. Corrective action on traceability documentation due Feb 2025. " +
		"ECG-002: PASSED with zero findings. Gold-tier supplier status renewed. " +
		"ALT-003: PASSED with observations. Recommended for increased order allocation. " +
		"ALT-004: PASSED. First audit cycle complete. Approved for production orders. " +
		"MFG-005: PASSED. Aerospace-grade facility. Highest scores in portfolio. " +
		"RAW-008: CONDITIONAL PASS. Improvement needed in delivery consistency. Review in Q2 2025. " +
		"PCK-009: PASSED. No significant findings."},
	{ID: "COMP-011", SupplierID: "COMPLIANCE", Region: "Global", Tier: "report", Content: "Supplier Compliance Matrix - Updated January 2025. " +
		"Trade Compliance: All suppliers cleared for US/EU trade. No OFAC/sanctions matches. " +
		"Environmental: TPA-001, ECG-002, ALT-004 have ISO 14001. Others pending. " +
		"Conflict Minerals: ALT-004 and MFG-005 certified conflict-free. " +
		"Data Privacy: ECG-002 and ALT-004 GDPR compliant. " +
		"Cybersecurity: MFG-005 CMMC Level 2 certified. Others have basic security controls. " +
		"Insurance: All primary suppliers carry $5M+ product liability insurance."},
	{ID: "PERF-012", SupplierID: "PERF-2024", Region: "Global", Tier: "report", Content: "Supplier Performance Rankings - 2024 Annual Review. " +
		"Tier 1 (Excellent): ECG-002 (score: 97/100), MFG-005 (score: 96/100). " +
		"Tier 2 (Good): ALT-004 (score: 92/100), TPA-001 (score: 90/100), PCK-009 (score: 89/100). " +
		"Tier 3 (Acceptable): ALT-003 (score: 84/100), LOG-006 (score: 83/100), LOG-007 (score: 85/100). " +
		"Tier 4 (Needs Improvement): RAW-008 (score: 76/100). " +
		"Key factors: On-time delivery (30%), Quality (30%), Cost competitiveness (20%), Responsiveness (20%). " +
		"Recommendation: Increase allocation to ECG-002 and ALT-004. Develop RAW-008 improvement plan."},
}

var _ DocSearch = (*ChromemDocSearch)(nil)
