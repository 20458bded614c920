package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sige/internal/catalog"
)

func TestMapType(t *testing.T) {
	cases := []struct {
		col  catalog.ColumnSpec
		want string
	}{
		{catalog.ColumnSpec{Type: catalog.TypeInteger}, "integer"},
		{catalog.ColumnSpec{Type: catalog.TypeText}, "text"},
		{catalog.ColumnSpec{Type: catalog.TypeText, Length: 100}, "varchar(100)"},
		{catalog.ColumnSpec{Type: catalog.TypeTimestamp}, "timestamp with time zone"},
		{catalog.ColumnSpec{Type: catalog.TypeDecimal}, "numeric(18,2)"},
		{catalog.ColumnSpec{Type: catalog.TypeBoolean}, "boolean"},
		{catalog.ColumnSpec{Type: catalog.TypeDate}, "date"},
		{catalog.ColumnSpec{Type: catalog.TypeTime}, "time"},
		{catalog.ColumnSpec{Type: catalog.TypeJSON}, "jsonb"},
	}
	for _, tc := range cases {
		got, err := MapType(tc.col)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := MapType(catalog.ColumnSpec{Type: "uuid"})
	require.Error(t, err)
}

func TestCreateTableSQL(t *testing.T) {
	spec := &catalog.TableSpec{
		Name:       "obra",
		PrimaryKey: []string{"id"},
		Columns: []catalog.ColumnSpec{
			{Name: "id", Type: catalog.TypeInteger},
			{Name: "nome", Type: catalog.TypeText, Length: 100},
			{Name: "orcamento", Type: catalog.TypeDecimal, Default: "0"},
			{Name: "endereco", Type: catalog.TypeText, Nullable: true},
		},
	}
	sqlText, err := CreateTableSQL(spec)
	require.NoError(t, err)
	assert.Contains(t, sqlText, `create table if not exists "obra"`)
	assert.Contains(t, sqlText, `"id" integer generated by default as identity not null`)
	assert.Contains(t, sqlText, `"nome" varchar(100) not null`)
	assert.Contains(t, sqlText, `"orcamento" numeric(18,2) not null default 0`)
	assert.Contains(t, sqlText, `"endereco" text null`)
	assert.Contains(t, sqlText, `primary key ("id")`)
}

func TestCreateTableSQLRejectsReservedName(t *testing.T) {
	spec := &catalog.TableSpec{
		Name:       "user",
		PrimaryKey: []string{"id"},
		Columns:    []catalog.ColumnSpec{{Name: "id", Type: catalog.TypeInteger}},
	}
	_, err := CreateTableSQL(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved word")
}

func TestAddColumnSQLAlwaysNullable(t *testing.T) {
	// NOT NULL навешивается отдельным шагом после backfill'а
	sqlText, err := AddColumnSQL("registro_ponto", catalog.ColumnSpec{Name: "admin_id", Type: catalog.TypeInteger})
	require.NoError(t, err)
	assert.Equal(t, `alter table "registro_ponto" add column if not exists "admin_id" integer`, sqlText)
	assert.NotContains(t, sqlText, "not null")

	sqlText, err = AddColumnSQL("registro_ponto", catalog.ColumnSpec{Name: "tipo_local", Type: catalog.TypeText, Length: 20, Default: "'oficina'"})
	require.NoError(t, err)
	assert.Equal(t, `alter table "registro_ponto" add column if not exists "tipo_local" varchar(20) default 'oficina'`, sqlText)
}

func TestTightenNotNullSQL(t *testing.T) {
	assert.Equal(t,
		`alter table "registro_ponto" alter column "admin_id" set not null`,
		TightenNotNullSQL("registro_ponto", "admin_id"))
}

func TestForeignKeySQL(t *testing.T) {
	fk := catalog.ForeignKeySpec{Column: "admin_id", RefTable: "usuario", OnDelete: "cascade"}
	assert.Equal(t, "fk_registro_ponto_admin_id", FKName("registro_ponto", fk))
	sqlText := AddForeignKeySQL("registro_ponto", fk)
	assert.Equal(t,
		`alter table "registro_ponto" add constraint fk_registro_ponto_admin_id foreign key ("admin_id") references "usuario"("id") on delete CASCADE`,
		sqlText)

	fk = catalog.ForeignKeySpec{Column: "obra_id", RefTable: "obra", OnDelete: "set_null"}
	assert.Contains(t, AddForeignKeySQL("registro_ponto", fk), "on delete SET NULL")

	fk = catalog.ForeignKeySpec{Column: "funcionario_id", RefTable: "funcionario"}
	assert.Contains(t, AddForeignKeySQL("registro_ponto", fk), "on delete RESTRICT")
}

func TestIndexSQL(t *testing.T) {
	ix := catalog.IndexSpec{Columns: []string{"admin_id"}}
	assert.Equal(t, "idx_obra_admin_id", IndexName("obra", ix))
	assert.Equal(t,
		`create index if not exists "idx_obra_admin_id" on "obra"("admin_id")`,
		AddIndexSQL("obra", ix))

	uq := catalog.IndexSpec{Columns: []string{"admin_id", "codigo"}, Unique: true}
	assert.Equal(t, "uq_obra_admin_id_codigo", IndexName("obra", uq))
	assert.Equal(t,
		`create unique index if not exists "uq_obra_admin_id_codigo" on "obra"("admin_id", "codigo")`,
		AddIndexSQL("obra", uq))
}

func TestDropColumnSQL(t *testing.T) {
	assert.Equal(t,
		`alter table "categoria_produto" drop column if exists "admin_id"`,
		DropColumnSQL("categoria_produto", "admin_id"))
}

func TestViaJoinUpdateSQLSingleHop(t *testing.T) {
	hops := []catalog.JoinHop{{FKColumn: "funcionario_id", RefTable: "funcionario"}}
	got := ViaJoinUpdateSQL("registro_ponto", hops)
	assert.Equal(t,
		`update "registro_ponto" t set "admin_id" = h1."admin_id" from "funcionario" h1 where t."funcionario_id" = h1."id" and t."admin_id" is null`,
		got)
}

func TestViaJoinUpdateSQLTwoHops(t *testing.T) {
	hops := []catalog.JoinHop{
		{FKColumn: "uso_id", RefTable: "uso_veiculo"},
		{FKColumn: "veiculo_id", RefTable: "veiculo"},
	}
	got := ViaJoinUpdateSQL("custo_detalhe", hops)
	assert.Contains(t, got, `from "uso_veiculo" h1 join "veiculo" h2 on h1."veiculo_id" = h2."id"`)
	assert.Contains(t, got, `set "admin_id" = h2."admin_id"`)
	assert.Contains(t, got, `t."admin_id" is null`)
}

func TestBackfillHelperSQL(t *testing.T) {
	assert.Equal(t,
		`update "obra" set "admin_id" = $1 where "admin_id" is null`,
		DefaultTenantUpdateSQL("obra"))
	assert.Equal(t,
		`select count(*) from "obra" where "admin_id" is null`,
		NullCountSQL("obra"))
	assert.Equal(t,
		`select exists(select 1 from "usuario" where "id" = $1)`,
		TenantExistsSQL())
}

func TestIndexColumnsFromDef(t *testing.T) {
	cases := []struct {
		def  string
		want []string
	}{
		{`CREATE INDEX idx_obra_admin_id ON public.obra USING btree (admin_id)`, []string{"admin_id"}},
		{`CREATE UNIQUE INDEX uq ON public.obra USING btree (admin_id, codigo)`, []string{"admin_id", "codigo"}},
		{`CREATE INDEX i ON public.t USING btree (a DESC, b)`, []string{"a", "b"}},
		{`broken`, nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, indexColumnsFromDef(tc.def))
	}
}
