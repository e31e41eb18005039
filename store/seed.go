package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/junyiz/lawkb/category"
)

type seedEntry struct {
	title    string
	content  string
	category category.Category
	tags     []string
	source   string
}

type seedRelation struct {
	source, target int
	typ            string
	confidence     float64
}

var seedEntries = []seedEntry{
	{
		title: "中华人民共和国民法典（合同编要点）",
		content: "民法典合同编规定，依法成立的合同，受法律保护，对当事人具有法律约束力。" +
			"当事人订立合同，可以采用书面形式、口头形式或者其他形式。" +
			"当事人应当按照约定全面履行自己的义务；一方不履行合同义务或者履行合同义务不符合约定的，" +
			"应当承担继续履行、采取补救措施或者赔偿损失等违约责任。" +
			"合同的变更和解除应当遵循协商一致原则，法定解除情形包括不可抗力致使不能实现合同目的等。",
		category: category.CivilLaw,
		tags:     []string{"合同", "违约责任", "民法典"},
		source:   "全国人民代表大会",
	},
	{
		title: "中华人民共和国刑法（总则要点）",
		content: "刑法规定了犯罪、刑事责任和刑罚。犯罪是危害社会、依照法律应当受刑罚处罚的行为。" +
			"刑罚分为主刑和附加刑，主刑包括管制、拘役、有期徒刑、无期徒刑和死刑。" +
			"对于犯罪分子决定刑罚的时候，应当根据犯罪的事实、犯罪的性质、情节和对于社会的危害程度，" +
			"依照本法的有关规定判处。",
		category: category.CriminalLaw,
		tags:     []string{"刑法", "刑罚", "犯罪"},
		source:   "全国人民代表大会",
	},
	{
		title: "中华人民共和国行政诉讼法（要点）",
		content: "公民、法人或者其他组织认为行政机关和行政机关工作人员的行政行为侵犯其合法权益的，" +
			"有权依照本法向人民法院提起诉讼。人民法院审理行政案件，对行政行为是否合法进行审查。" +
			"提起行政诉讼应当在知道或者应当知道作出行政行为之日起六个月内提出。",
		category: category.AdministrativeLaw,
		tags:     []string{"行政诉讼", "行政行为"},
		source:   "全国人民代表大会",
	},
	{
		title: "合同纠纷典型案例：买卖合同违约赔偿",
		content: "某买卖合同纠纷中，卖方未按约定时间交付货物，买方主张解除合同并要求赔偿损失。" +
			"法院认为，卖方迟延履行主要债务，经催告后在合理期限内仍未履行，买方有权解除合同。" +
			"违约方应当赔偿守约方因违约所受到的损失，包括合同履行后可以获得的利益，" +
			"但不得超过违约方订立合同时预见到或者应当预见到的损失。",
		category: category.CivilLaw,
		tags:     []string{"合同", "违约责任", "案例"},
		source:   "最高人民法院指导案例",
	},
	{
		title: "劳动争议处理案例：违法解除劳动合同",
		content: "某公司未经法定程序解除与员工的劳动合同，员工申请劳动仲裁要求赔偿。" +
			"仲裁委认为，用人单位违反劳动合同法规定解除劳动合同的，应当依照经济补偿标准的二倍" +
			"向劳动者支付赔偿金。劳动者月工资高于当地平均工资三倍的，按三倍封顶计算。" +
			"劳动争议应当先经劳动仲裁，对仲裁裁决不服的可以向人民法院提起诉讼。",
		category: category.LaborLaw,
		tags:     []string{"劳动合同", "劳动仲裁", "案例", "赔偿"},
		source:   "劳动人事争议仲裁委员会",
	},
	{
		title: "合同审查实务要点",
		content: "合同审查应当重点关注：当事人主体资格是否适格；合同标的、数量、质量、价款条款是否明确；" +
			"履行期限、地点和方式是否可执行；违约责任条款是否对等；争议解决条款约定的仲裁或诉讼管辖是否有效。" +
			"涉及担保的，应当审查担保人资格和担保物权设立手续。",
		category: category.CivilLaw,
		tags:     []string{"合同", "合同审查", "实务"},
		source:   "执业指引",
	},
	{
		title: "劳动争议处理流程指引",
		content: "劳动争议处理一般经过协商、调解、仲裁、诉讼四个阶段。" +
			"当事人应当自劳动争议发生之日起一年内申请劳动仲裁。" +
			"对仲裁裁决不服的，可以自收到裁决书之日起十五日内向人民法院提起诉讼。" +
			"工伤认定应当在事故伤害发生之日起一年内提出申请。",
		category: category.LaborLaw,
		tags:     []string{"劳动仲裁", "工伤", "实务"},
		source:   "执业指引",
	},
}

// Indexes into seedEntries.
var seedRelations = []seedRelation{
	{source: 3, target: 0, typ: RelationCitation, confidence: 0.9},
	{source: 5, target: 0, typ: RelationHierarchical, confidence: 0.8},
	{source: 4, target: 6, typ: RelationCausal, confidence: 0.7},
	{source: 6, target: 4, typ: RelationCitation, confidence: 0.6},
}

// Seed loads the built-in starter corpus. It is a no-op when the store
// already holds entries.
func (s *Store) Seed(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return fmt.Errorf("checking seed state: %w", err)
	}
	if n > 0 {
		slog.Debug("seed skipped, store is not empty", "entries", n)
		return nil
	}

	ids := make([]int64, len(seedEntries))
	for i, se := range seedEntries {
		e, err := s.CreateEntry(ctx, Entry{
			Title:    se.title,
			Content:  se.content,
			Category: se.category,
			Tags:     se.tags,
			Source:   se.source,
		})
		if err != nil {
			return fmt.Errorf("seeding entry %q: %w", se.title, err)
		}
		ids[i] = e.ID
	}

	for _, sr := range seedRelations {
		if _, err := s.InsertRelation(ctx, Relation{
			SourceID:   ids[sr.source],
			TargetID:   ids[sr.target],
			Type:       sr.typ,
			Confidence: sr.confidence,
		}); err != nil {
			return fmt.Errorf("seeding relation: %w", err)
		}
	}

	slog.Info("seeded knowledge base", "entries", len(seedEntries), "relations", len(seedRelations))
	return nil
}
