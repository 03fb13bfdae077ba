package topology

import (
	"strings"
	"testing"

	"gotest.tools/assert"
)

const nodesCSV = `ID_NODO;ID_CT;CT_NOMBRE;LBT_ID;LBT_NOMBRE;TRAFO;TIPO_NODO;NODO_X;NODO_Y
N1.0;8417;MIRAMONTE;100;LINEA 1;TR01;ARQUETA;430100,5;4810200,2
N2;8417;MIRAMONTE;100;LINEA 1;TR01;CGP;430150,0;4810250,0
N9;9999;OTRA;200;LINEA 9;TR01;ARQUETA;1;1
N8;8417;OTRONOMBRE;100;LINEA 1;TR01;ARQUETA;1;1
`

const customersCSV = `CUPS;ID_CT;CT_NOMBRE;LBT_ID;TRAFO;AMM_FASE;TIPO_CONEXION;POT_CONTRATADA;QBT_TENSION;CUPS_X;CUPS_Y;TIPO_PUNTO_MEDIDA
ES001;8417;MIRAMONTE;100;TR01;R;MONOFASICO;5,75;230;430151,0;4810251,0;SUMINISTRO
ES002;8417;MIRAMONTE;100;TR01;;TRIFASICO;15,0;400;430160,0;4810260,0;SUMINISTRO
ESTR1;8417;MIRAMONTE;;TR01;;TRIFASICO;0;400;0;0;FRONTERA_CT
`

func TestReadNodesFiltersBySubstation(t *testing.T) {
	tab, err := ReadTable(strings.NewReader(nodesCSV))
	if err != nil {
		t.Fatal(err)
	}
	nodes := parseNodes(tab, 8417, "MIRAMONTE")

	// the id-only and the name-only matches are both dropped
	assert.Equal(t, len(nodes), 2)
	assert.Equal(t, nodes[0].ID, "N1") // ".0" suffix stripped
	assert.Equal(t, nodes[0].X, 430100.5)
	assert.Equal(t, nodes[1].Kind, "CGP")
}

func TestReadCustomersSplitsConnectionKinds(t *testing.T) {
	tab, err := ReadTable(strings.NewReader(customersCSV))
	if err != nil {
		t.Fatal(err)
	}
	cups := parseCustomers(tab, 8417, "MIRAMONTE")
	assert.Equal(t, len(cups), 3)

	assert.Equal(t, cups[0].Phase, "R")
	assert.Assert(t, !cups[0].ThreePhase)
	assert.Equal(t, cups[0].ContractedKW, 5.75)
	assert.Equal(t, cups[0].Voltage, 230)
	assert.Assert(t, !cups[0].HeadMeter)

	assert.Assert(t, cups[1].ThreePhase)
	assert.Assert(t, cups[2].HeadMeter)
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("12,5")
	assert.NilError(t, err)
	assert.Equal(t, v, 12.5)

	v, err = ParseDecimal("")
	assert.NilError(t, err)
	assert.Equal(t, v, 0.0)

	_, err = ParseDecimal("abc")
	assert.Assert(t, err != nil)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, NormalizeID(" n12.0 "), "N12")
	assert.Equal(t, NormalizeID("tr01"), "TR01")
}
