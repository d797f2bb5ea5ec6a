package logic

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"toposdb/src/encoding"
	"toposdb/src/graph"
	"toposdb/src/kgerr"
	"toposdb/src/pattern"
)

// Rules are persisted as bson documents. The codec captures the full
// normal form so a rule round-trips without the surface language.

type ruleDoc struct {
	Label    string  `bson:"label"`
	HeadKind int     `bson:"head_kind"`
	HeadVar  string  `bson:"head_var"`
	When     conjDoc `bson:"when"`
	Then     conjDoc `bson:"then"`
}

type conjDoc struct {
	Variables []varDoc `bson:"variables"`
}

type varDoc struct {
	RefKind int    `bson:"ref_kind"`
	RefName string `bson:"ref_name"`
	IsThing bool   `bson:"is_thing"`

	IsaType     string      `bson:"isa_type,omitempty"`
	IsaExplicit bool        `bson:"isa_explicit,omitempty"`
	Has         []string    `bson:"has,omitempty"`
	Players     []playerDoc `bson:"players,omitempty"`
	Values      []valueDoc  `bson:"values,omitempty"`

	LabelName  string `bson:"label_name,omitempty"`
	LabelScope string `bson:"label_scope,omitempty"`
}

type playerDoc struct {
	Player   string `bson:"player"`
	RoleType string `bson:"role_type,omitempty"`
}

type valueDoc struct {
	Op       int     `bson:"op"`
	Variable string  `bson:"variable,omitempty"`
	Kind     byte    `bson:"kind,omitempty"`
	Bool     bool    `bson:"bool,omitempty"`
	Long     int64   `bson:"long,omitempty"`
	Double   float64 `bson:"double,omitempty"`
	Str      string  `bson:"str,omitempty"`
	Millis   int64   `bson:"millis,omitempty"`
}

func marshalRule(rule *Rule) ([]byte, error) {
	doc := ruleDoc{
		Label:    rule.label,
		HeadKind: int(rule.headKind),
		HeadVar:  rule.headVar.Reference().Key(),
		When:     marshalConjunction(rule.when),
		Then:     marshalConjunction(rule.then),
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.ErrIllegalState, err)
	}
	return raw, nil
}

func marshalConjunction(conj *pattern.Conjunction) conjDoc {
	var doc conjDoc
	for _, v := range conj.Variables() {
		vd := varDoc{
			RefKind: int(v.Reference().Kind()),
			RefName: v.Reference().Name(),
			IsThing: v.IsThing(),
		}
		if v.IsThing() {
			tv := v.AsThing()
			if tv.Isa != nil {
				vd.IsaType = tv.Isa.Type.Reference().Key()
				vd.IsaExplicit = tv.Isa.Explicit
			}
			for _, h := range tv.Has {
				vd.Has = append(vd.Has, h.Attribute.Reference().Key())
			}
			if tv.Relation != nil {
				for _, p := range tv.Relation.Players {
					pd := playerDoc{Player: p.Player.Reference().Key()}
					if p.RoleType != nil {
						pd.RoleType = p.RoleType.Reference().Key()
					}
					vd.Players = append(vd.Players, pd)
				}
			}
			for _, val := range tv.Values {
				valDoc := valueDoc{Op: int(val.Op)}
				if val.Variable != nil {
					valDoc.Variable = val.Variable.Reference().Key()
				} else {
					valDoc.Kind = byte(val.Value.Kind)
					valDoc.Bool = val.Value.Bool
					valDoc.Long = val.Value.Long
					valDoc.Double = val.Value.Double
					valDoc.Str = val.Value.Str
					if val.Value.Kind == encoding.ValueDateTime {
						valDoc.Millis = val.Value.DateTime.UnixMilli()
					}
				}
				vd.Values = append(vd.Values, valDoc)
			}
		} else {
			ty := v.AsType()
			if ty.Label != nil {
				vd.LabelName = ty.Label.Label.Name
				vd.LabelScope = ty.Label.Label.Scope
			}
		}
		doc.Variables = append(doc.Variables, vd)
	}
	return doc
}

func unmarshalRule(raw []byte) (*Rule, error) {
	var doc ruleDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, kgerr.Wrap(kgerr.ErrIllegalState, err)
	}
	when, _, err := unmarshalConjunction(doc.When)
	if err != nil {
		return nil, err
	}
	then, thenVars, err := unmarshalConjunction(doc.Then)
	if err != nil {
		return nil, err
	}
	headVar := thenVars[doc.HeadVar]
	if headVar == nil {
		return nil, kgerr.Of(kgerr.ErrIllegalState, "rule %q head variable missing", doc.Label)
	}
	return &Rule{
		label:    doc.Label,
		when:     when,
		then:     then,
		headKind: HeadKind(doc.HeadKind),
		headVar:  headVar,
	}, nil
}

func unmarshalConjunction(doc conjDoc) (*pattern.Conjunction, map[string]*pattern.ThingVariable, error) {
	things := make(map[string]*pattern.ThingVariable)
	types := make(map[string]*pattern.TypeVariable)
	conj := pattern.NewConjunction()

	ref := func(vd varDoc) pattern.Reference {
		switch pattern.RefKind(vd.RefKind) {
		case pattern.RefName:
			return pattern.NewNameReference(vd.RefName)
		case pattern.RefLabel:
			return pattern.NewLabelReference(vd.RefName)
		case pattern.RefSystem:
			return pattern.NewSystemReference(vd.RefName)
		default:
			return pattern.NewSystemReference(vd.RefName)
		}
	}

	// First pass: create variables.
	for _, vd := range doc.Variables {
		r := ref(vd)
		if vd.IsThing {
			v := pattern.NewThingVariable(r)
			things[r.Key()] = v
			conj.Add(v)
		} else {
			v := pattern.NewTypeVariable(r)
			if vd.LabelName != "" {
				v.PutLabel(graph.Label{Name: vd.LabelName, Scope: vd.LabelScope})
			}
			types[r.Key()] = v
			conj.Add(v)
		}
	}

	// Second pass: wire constraints.
	for _, vd := range doc.Variables {
		if !vd.IsThing {
			continue
		}
		v := things[ref(vd).Key()]
		if vd.IsaType != "" {
			t := types[vd.IsaType]
			if t == nil {
				return nil, nil, kgerr.Of(kgerr.ErrIllegalState, "dangling isa target %s", vd.IsaType)
			}
			v.PutIsa(t, vd.IsaExplicit)
		}
		for _, attrKey := range vd.Has {
			attr := things[attrKey]
			if attr == nil {
				return nil, nil, kgerr.Of(kgerr.ErrIllegalState, "dangling has target %s", attrKey)
			}
			v.PutHas(attr)
		}
		if len(vd.Players) > 0 {
			players := make([]pattern.RolePlayer, 0, len(vd.Players))
			for _, pd := range vd.Players {
				player := things[pd.Player]
				if player == nil {
					return nil, nil, kgerr.Of(kgerr.ErrIllegalState, "dangling player %s", pd.Player)
				}
				rp := pattern.RolePlayer{Player: player}
				if pd.RoleType != "" {
					rp.RoleType = types[pd.RoleType]
				}
				players = append(players, rp)
			}
			v.PutRelation(players...)
		}
		for _, valDoc := range vd.Values {
			if valDoc.Variable != "" {
				other := things[valDoc.Variable]
				if other == nil {
					return nil, nil, kgerr.Of(kgerr.ErrIllegalState, "dangling value variable %s", valDoc.Variable)
				}
				v.PutValueVariable(pattern.PredicateOp(valDoc.Op), other)
				continue
			}
			value := encoding.Value{
				Kind:   encoding.ValueKind(valDoc.Kind),
				Bool:   valDoc.Bool,
				Long:   valDoc.Long,
				Double: valDoc.Double,
				Str:    valDoc.Str,
			}
			if value.Kind == encoding.ValueDateTime {
				value.DateTime = time.UnixMilli(valDoc.Millis).In(encoding.DateTimeZone)
			}
			v.PutValue(pattern.PredicateOp(valDoc.Op), value)
		}
	}
	return conj, things, nil
}
